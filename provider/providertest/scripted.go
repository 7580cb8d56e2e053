// Package providertest offers a scripted Provider for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/provider"
)

// Keys used for requests without a schema.
const (
	TextKey = "text"
	ToolKey = "tool_call"
)

// Handler computes a response for a request.
type Handler func(req provider.Request) (provider.Response, error)

// Scripted replays queued responses keyed by schema name, TextKey or ToolKey.
// The last queued response of a key is reused once the queue drains.
type Scripted struct {
	ToolCalling bool

	mu       sync.Mutex
	queues   map[string][]Handler
	requests []provider.Request
}

func New() *Scripted {
	return &Scripted{queues: make(map[string][]Handler)}
}

// On queues handlers for key.
func (s *Scripted) On(key string, handlers ...Handler) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[key] = append(s.queues[key], handlers...)
	return s
}

// OnText queues plain text responses for key.
func (s *Scripted) OnText(key string, texts ...string) *Scripted {
	for _, text := range texts {
		text := text
		s.On(key, func(provider.Request) (provider.Response, error) {
			return provider.Response{Text: text}, nil
		})
	}
	return s
}

// OnJSON queues JSON encoded values for key.
func (s *Scripted) OnJSON(key string, values ...any) *Scripted {
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		s.OnText(key, string(b))
	}
	return s
}

// OnToolCall queues a tool call response.
func (s *Scripted) OnToolCall(name string, args any) *Scripted {
	b, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return s.On(ToolKey, func(provider.Request) (provider.Response, error) {
		return provider.Response{ToolCalls: []provider.ToolCall{{Name: name, Arguments: b}}}, nil
	})
}

// OnError queues a failure for key.
func (s *Scripted) OnError(key string, err error) *Scripted {
	return s.On(key, func(provider.Request) (provider.Response, error) {
		return provider.Response{}, err
	})
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) SupportsToolCalling() bool { return s.ToolCalling }

func (s *Scripted) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	if err := ctx.Err(); err != nil {
		return provider.Response{}, err
	}
	key := TextKey
	switch {
	case req.Schema != nil:
		key = req.Schema.Name
	case len(req.Tools) > 0:
		key = ToolKey
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	queue := s.queues[key]
	if len(queue) == 0 {
		s.mu.Unlock()
		return provider.Response{}, fmt.Errorf("providertest: no scripted response for %q", key)
	}
	h := queue[0]
	if len(queue) > 1 {
		s.queues[key] = queue[1:]
	}
	s.mu.Unlock()
	return h(req)
}

// Requests returns every request seen so far.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests used key.
func (s *Scripted) Count(key string) int {
	n := 0
	for _, r := range s.Requests() {
		k := TextKey
		switch {
		case r.Schema != nil:
			k = r.Schema.Name
		case len(r.Tools) > 0:
			k = ToolKey
		}
		if k == key {
			n++
		}
	}
	return n
}
