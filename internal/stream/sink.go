package stream

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// ChannelSink delivers packets on a channel. The channel is closed after the
// terminal packet.
type ChannelSink struct {
	ch   chan Packet
	once sync.Once
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{ch: make(chan Packet, buffer)}
}

// Packets is the receive side consumed by the caller.
func (s *ChannelSink) Packets() <-chan Packet { return s.ch }

func (s *ChannelSink) Write(ctx context.Context, p Packet) error {
	select {
	case s.ch <- p:
	case <-ctx.Done():
		if p.Payload.Kind.Terminal() {
			s.close()
		}
		return ctx.Err()
	}
	if p.Payload.Kind.Terminal() {
		s.close()
	}
	return nil
}

func (s *ChannelSink) close() {
	s.once.Do(func() { close(s.ch) })
}

// JSONLinesSink writes one JSON document per packet.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Write(_ context.Context, p Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(p)
}

// Recorder keeps every packet in memory.
type Recorder struct {
	mu      sync.Mutex
	packets []Packet
}

func (r *Recorder) Write(_ context.Context, p Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p)
	return nil
}

// Packets returns a copy of the recorded packets.
func (r *Recorder) Packets() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Packet, len(r.packets))
	copy(out, r.packets)
	return out
}

// Kinds returns the payload kinds in emission order.
func (r *Recorder) Kinds() []Kind {
	pkts := r.Packets()
	out := make([]Kind, len(pkts))
	for i, p := range pkts {
		out[i] = p.Payload.Kind
	}
	return out
}
