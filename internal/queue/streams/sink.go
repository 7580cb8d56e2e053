package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix     = "deepresearch:run:"
	DefaultStreamTTL = 24 * time.Hour
)

// StreamName is the Redis stream holding the packets of one run.
func StreamName(runID string) string { return streamPrefix + runID }

// PacketSink mirrors the packets of one run into its Redis stream. The
// stream expires ttl after the terminal packet.
type PacketSink struct {
	publisher *Publisher
	client    redis.UniversalClient
	runID     string
	ttl       time.Duration
}

func NewPacketSink(p *Publisher, runID string, ttl time.Duration) *PacketSink {
	if ttl <= 0 {
		ttl = DefaultStreamTTL
	}
	return &PacketSink{publisher: p, client: p.client, runID: runID, ttl: ttl}
}

func (s *PacketSink) Write(ctx context.Context, p stream.Packet) error {
	env, err := PacketEnvelope(s.runID, p)
	if err != nil {
		return err
	}
	name := StreamName(s.runID)
	if _, err := s.publisher.Publish(ctx, name, env); err != nil {
		return err
	}
	if p.Payload.Kind.Terminal() {
		if err := s.client.Expire(ctx, name, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire %s: %w", name, err)
		}
	}
	return nil
}

// Mirror returns a factory producing one sink per run.
func (p *Publisher) Mirror(ttl time.Duration) func(runID string) stream.Sink {
	return func(runID string) stream.Sink { return NewPacketSink(p, runID, ttl) }
}

// Replay reads back every mirrored packet of a run in order.
func Replay(ctx context.Context, client redis.UniversalClient, runID string) ([]stream.Packet, error) {
	msgs, err := client.XRange(ctx, StreamName(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]stream.Packet, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Values["type"] != EventPacket {
			continue
		}
		env, err := decodeEnvelope(msg.Values["envelope"])
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", msg.ID, err)
		}
		pkt, err := env.Packet()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", msg.ID, err)
		}
		out = append(out, pkt)
	}
	return out, nil
}
