package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrToolMissing indicates a required tool family is not registered.
	ErrToolMissing = errors.New("required tool missing")
	// ErrUnknownPath is returned for paths outside the closed tool family set.
	ErrUnknownPath = errors.New("unknown tool path")
	// ErrEmptyRegistry is returned when no tool could be registered.
	ErrEmptyRegistry = errors.New("tool registry is empty")
	// ErrDuplicateTool is returned when two tools share an LLM-facing name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrInvalidArguments is returned when arguments fail the tool's schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// CloserName is the LLM-facing name of the synthetic closer pseudo-tool.
const CloserName = "closer"

// OrchestratorTool is the registry entry the orchestrator chooses from.
type OrchestratorTool struct {
	ToolID      int     `json:"tool_id"`
	Name        string  `json:"name"`
	LLMPath     string  `json:"llm_path"`
	Path        Path    `json:"path"`
	Description string  `json:"description"`
	Cost        float64 `json:"cost"`
	// Capability is nil only for the closer pseudo-tool.
	Capability Tool `json:"-"`
}

// Spec declares one tool to register.
type Spec struct {
	Path       Path
	Capability Tool
	// Cost overrides the path default when > 0.
	Cost float64
}

// Options tune registry construction.
type Options struct {
	// Costs per path; missing paths fall back to DefaultCosts.
	Costs map[Path]float64
	// Required paths must have at least one registered tool.
	Required []Path
}

// DefaultCosts are the amortized budget units charged per use.
var DefaultCosts = map[Path]float64{
	PathInternalSearch:      1.0,
	PathWebSearch:           1.5,
	PathKnowledgeGraph:      2.0,
	PathImageGeneration:     3.0,
	PathCustomTool:          1.0,
	PathGenericInternalTool: 1.0,
	PathCloser:              0,
}

// Registry maps LLM-facing tool names to tools. It is immutable once built.
type Registry struct {
	tools   map[string]OrchestratorTool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewRegistry validates specs and builds the registry for one request. The
// closer pseudo-tool is always appended.
func NewRegistry(specs []Spec, opts Options) (*Registry, error) {
	reg := &Registry{
		tools:   make(map[string]OrchestratorTool),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for _, s := range specs {
		if !s.Path.IsToolFamily() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPath, s.Path)
		}
		if s.Capability == nil {
			return nil, fmt.Errorf("tool for path %s has no capability", s.Path)
		}
		name := normalizeName(s.Capability.Name())
		if name == "" {
			return nil, fmt.Errorf("tool for path %s has an empty name", s.Path)
		}
		if _, dup := reg.tools[name]; dup || Path(name).IsSentinel() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		schema, err := compileArgumentSchema(name, s.Capability.ArgumentSchema())
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		cost := s.Cost
		if cost <= 0 {
			cost = costFor(s.Path, opts.Costs)
		}
		reg.tools[name] = OrchestratorTool{
			ToolID:      len(reg.order) + 1,
			Name:        name,
			LLMPath:     s.Path.LLMPath(),
			Path:        s.Path,
			Description: strings.TrimSpace(s.Capability.Description()),
			Cost:        cost,
			Capability:  s.Capability,
		}
		reg.schemas[name] = schema
		reg.order = append(reg.order, name)
	}
	if len(reg.order) == 0 {
		return nil, ErrEmptyRegistry
	}
	for _, p := range opts.Required {
		if len(reg.ByPath(p)) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, p)
		}
	}
	reg.tools[CloserName] = OrchestratorTool{
		ToolID:      len(reg.order) + 1,
		Name:        CloserName,
		LLMPath:     PathCloser.LLMPath(),
		Path:        PathCloser,
		Description: "Stop researching and write the final answer from the evidence gathered so far.",
		Cost:        costFor(PathCloser, opts.Costs),
	}
	reg.order = append(reg.order, CloserName)
	return reg, nil
}

func costFor(p Path, costs map[Path]float64) float64 {
	if c, ok := costs[p]; ok {
		return c
	}
	return DefaultCosts[p]
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

func compileArgumentSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	url := "mem://tools/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add argument schema: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile argument schema: %w", err)
	}
	return schema, nil
}

// Len counts registered entries, including the closer.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Lookup resolves an LLM-facing name.
func (r *Registry) Lookup(name string) (OrchestratorTool, bool) {
	if r == nil {
		return OrchestratorTool{}, false
	}
	t, ok := r.tools[normalizeName(name)]
	return t, ok
}

// Tools returns every entry in registration order.
func (r *Registry) Tools() []OrchestratorTool {
	if r == nil {
		return nil
	}
	out := make([]OrchestratorTool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// ByPath returns the tools registered for p.
func (r *Registry) ByPath(p Path) []OrchestratorTool {
	var out []OrchestratorTool
	for _, t := range r.Tools() {
		if t.Path == p {
			out = append(out, t)
		}
	}
	return out
}

// Paths returns the distinct tool families present, sorted.
func (r *Registry) Paths() []Path {
	seen := map[Path]struct{}{}
	var out []Path
	for _, t := range r.Tools() {
		if _, ok := seen[t.Path]; ok || !t.Path.IsToolFamily() {
			continue
		}
		seen[t.Path] = struct{}{}
		out = append(out, t.Path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateArguments checks args against the tool's argument schema.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	schema, ok := r.schemas[normalizeName(name)]
	if !ok {
		return fmt.Errorf("%w: no schema for %s", ErrInvalidArguments, name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
