package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	EventPacket   = "research.packet"
	PacketVersion = "v1"
)

var ErrNoSchema = errors.New("no schema registered")

// Definition is one payload schema, keyed by event type and version.
type Definition struct {
	EventType string
	Version   string
	Schema    string
}

func (d Definition) key() schemaKey { return schemaKey{d.EventType, d.Version} }

type schemaKey struct{ eventType, version string }

func (k schemaKey) String() string { return k.eventType + "/" + k.version }

var packetDefinition = Definition{
	EventType: EventPacket,
	Version:   PacketVersion,
	Schema: `{
  "type": "object",
  "required": ["seq", "ind", "obj"],
  "properties": {
    "seq": {"type": "integer", "minimum": 1},
    "ind": {"type": "integer", "minimum": 0},
    "branch": {"type": "integer"},
    "obj": {
      "type": "object",
      "required": ["type"],
      "properties": {"type": {"type": "string", "minLength": 1}}
    }
  }
}`,
}

// SchemaRegistry validates envelope payloads before they are published.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[schemaKey]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[schemaKey]*jsonschema.Schema)}
}

// DefaultRegistry knows the research packet schema.
func DefaultRegistry() (*SchemaRegistry, error) {
	r := NewSchemaRegistry()
	if err := r.Register(packetDefinition); err != nil {
		return nil, err
	}
	return r, nil
}

// Register compiles d, replacing any schema with the same key.
func (r *SchemaRegistry) Register(d Definition) error {
	if d.EventType == "" || d.Version == "" {
		return fmt.Errorf("schema definition needs event type and version")
	}
	k := d.key()
	compiled, err := jsonschema.CompileString(k.String()+".json", d.Schema)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", k, err)
	}
	r.mu.Lock()
	r.schemas[k] = compiled
	r.mu.Unlock()
	return nil
}

// Validate checks the envelope data against the schema for its type and version.
func (r *SchemaRegistry) Validate(env Envelope) error {
	k := schemaKey{env.Type, env.Version}
	r.mu.RLock()
	schema, ok := r.schemas[k]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSchema, k)
	}
	var doc any
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return fmt.Errorf("decode %s payload: %w", k, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s payload: %w", k, err)
	}
	return nil
}
