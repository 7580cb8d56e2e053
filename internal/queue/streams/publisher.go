package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher appends schema-checked envelopes to Redis streams.
type Publisher struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	maxLen   int64
}

type PublisherOption func(*Publisher)

// WithMaxLenApprox trims each stream to roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) PublisherOption {
	return func(p *Publisher) { p.maxLen = maxLen }
}

// NewPublisher creates a Publisher. A nil registry skips schema checks.
func NewPublisher(client redis.UniversalClient, registry *SchemaRegistry, opts ...PublisherOption) *Publisher {
	p := &Publisher{client: client, registry: registry}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish stamps, validates and XADDs env, returning the entry id.
func (p *Publisher) Publish(ctx context.Context, stream string, env Envelope) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.At.IsZero() {
		env.At = time.Now().UTC()
	}
	if err := env.Validate(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"type": env.Type, "envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}
