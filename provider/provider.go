// Package provider defines the model invocation capability consumed by the
// research loop.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

var (
	// ErrMalformedOutput is returned when a structured response holds no JSON object.
	ErrMalformedOutput = errors.New("model returned malformed structured output")
	// ErrSchemaViolation is returned when structured output fails its schema.
	ErrSchemaViolation = errors.New("model output violates schema")
	// ErrNoToolCall is returned when a tool-calling request yields no call.
	ErrNoToolCall = errors.New("model did not call a tool")
)

// Schema is a named JSON schema for structured output. It compiles lazily once.
type Schema struct {
	Name       string
	Definition json.RawMessage

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema declares a structured output schema.
func NewSchema(name, definition string) *Schema {
	return &Schema{Name: name, Definition: json.RawMessage(definition)}
}

// Compile returns the compiled schema.
func (s *Schema) Compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		url := "mem://schemas/" + s.Name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(s.Definition)); err != nil {
			s.err = fmt.Errorf("add schema %s: %w", s.Name, err)
			return
		}
		s.compiled, s.err = compiler.Compile(url)
	})
	return s.compiled, s.err
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a function call returned by the model.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Request is one model invocation.
type Request struct {
	System string
	Prompt string
	// Schema requests structured output when set.
	Schema *Schema
	// Tools requests a tool call when non-empty.
	Tools   []ToolSpec
	Timeout time.Duration
}

// Response is what a provider returns.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int64
}

// Provider invokes a model against a prompt and optional schema or tools.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (Response, error)
	SupportsToolCalling() bool
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// InvokeText runs a free-text request.
func InvokeText(ctx context.Context, p Provider, req Request) (string, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	req.Schema = nil
	req.Tools = nil
	resp, err := p.Invoke(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// InvokeStructured runs req and decodes the schema-validated JSON object into out.
func InvokeStructured(ctx context.Context, p Provider, req Request, out any) error {
	if req.Schema == nil {
		return errors.New("structured invocation requires a schema")
	}
	schema, err := req.Schema.Compile()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	req.Tools = nil
	resp, err := p.Invoke(ctx, req)
	if err != nil {
		return err
	}
	raw, err := helpers.ExtractJSON(resp.Text)
	if err != nil {
		return fmt.Errorf("%w (%s): %v", ErrMalformedOutput, req.Schema.Name, err)
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("%w (%s): %v", ErrMalformedOutput, req.Schema.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w (%s): %v", ErrSchemaViolation, req.Schema.Name, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Schema.Name, err)
	}
	return nil
}

// InvokeToolCall asks the model to call one of req.Tools and returns the first call.
func InvokeToolCall(ctx context.Context, p Provider, req Request) (ToolCall, error) {
	if len(req.Tools) == 0 {
		return ToolCall{}, errors.New("tool invocation requires tools")
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	req.Schema = nil
	resp, err := p.Invoke(ctx, req)
	if err != nil {
		return ToolCall{}, err
	}
	if len(resp.ToolCalls) == 0 {
		return ToolCall{}, ErrNoToolCall
	}
	return resp.ToolCalls[0], nil
}
