package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/stream"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope wraps one mirrored event in its Redis stream entry.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Version string          `json:"version"`
	RunID   string          `json:"run_id"`
	Seq     int64           `json:"seq,omitempty"`
	At      time.Time       `json:"at"`
	Data    json.RawMessage `json:"data"`
}

// PacketEnvelope wraps a research packet of runID.
func PacketEnvelope(runID string, p stream.Packet) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal packet %d: %w", p.Seq, err)
	}
	return Envelope{Type: EventPacket, Version: PacketVersion, RunID: runID, Seq: p.Seq, Data: data}, nil
}

func (e Envelope) Validate() error {
	switch {
	case e.Type == "":
		return fmt.Errorf("%w: type missing", ErrInvalidEnvelope)
	case e.Version == "":
		return fmt.Errorf("%w: version missing", ErrInvalidEnvelope)
	case e.RunID == "":
		return fmt.Errorf("%w: run_id missing", ErrInvalidEnvelope)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: data missing", ErrInvalidEnvelope)
	}
	return nil
}

// Packet decodes the data of a packet envelope.
func (e Envelope) Packet() (stream.Packet, error) {
	var p stream.Packet
	if e.Type != EventPacket {
		return p, fmt.Errorf("%w: %s is not a packet", ErrInvalidEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return p, fmt.Errorf("decode packet: %w", err)
	}
	return p, nil
}

// decodeEnvelope reads the envelope field of a stream entry.
func decodeEnvelope(raw any) (Envelope, error) {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return Envelope{}, fmt.Errorf("%w: unexpected field type %T", ErrInvalidEnvelope, raw)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env, env.Validate()
}
