package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

// ArgumentsSchemaName names the structured call that extracts tool arguments
// from providers without tool calling.
const ArgumentsSchemaName = "tool_arguments"

// ResolveArguments derives tool arguments for query. It asks the model for an
// explicit tool call when the provider supports it. Otherwise the capability's
// own derivation runs first, and when it yields nothing the model is asked
// for a JSON object matching the argument schema. The result is validated
// against the tool's argument schema.
func ResolveArguments(ctx context.Context, deps Deps, tool capability.OrchestratorTool, query string, history []models.ChatMessage) (map[string]any, error) {
	if tool.Capability == nil {
		return nil, fmt.Errorf("%w: %s has no capability", ErrNoArguments, tool.Name)
	}
	var (
		args map[string]any
		err  error
	)
	if deps.LLM != nil && deps.LLM.SupportsToolCalling() {
		args, err = toolCallArguments(ctx, deps, tool, query)
	} else {
		args, err = tool.Capability.DeriveArguments(ctx, query, history)
		if err == nil && args == nil && deps.LLM != nil {
			args, err = structuredArguments(ctx, deps, tool, query)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoArguments, err)
	}
	if args == nil {
		return nil, fmt.Errorf("%w: %s returned none", ErrNoArguments, tool.Name)
	}
	if deps.Registry != nil {
		if err := deps.Registry.ValidateArguments(tool.Name, args); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func toolCallArguments(ctx context.Context, deps Deps, tool capability.OrchestratorTool, query string) (map[string]any, error) {
	schema := tool.Capability.ArgumentSchema()
	call, err := provider.InvokeToolCall(ctx, deps.LLM, provider.Request{
		Prompt:  argumentPrompt(tool.Name, tool.Description, query, schema),
		Tools:   []provider.ToolSpec{{Name: tool.Name, Description: tool.Description, Parameters: schema}},
		Timeout: deps.LLMTimeout,
	})
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if len(call.Arguments) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode tool call arguments: %w", err)
	}
	return args, nil
}

func structuredArguments(ctx context.Context, deps Deps, tool capability.OrchestratorTool, query string) (map[string]any, error) {
	schema := tool.Capability.ArgumentSchema()
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	var args map[string]any
	err := provider.InvokeStructured(ctx, deps.LLM, provider.Request{
		System:  argumentSystem,
		Prompt:  argumentPrompt(tool.Name, tool.Description, query, schema),
		Schema:  provider.NewSchema(ArgumentsSchemaName, string(schema)),
		Timeout: deps.LLMTimeout,
	}, &args)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
