package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

// toolFamily serves both custom tools and generic internal tools: arguments
// are resolved per branch, the tool runs, and the model reads its result.
type toolFamily struct {
	path capability.Path
	deps Deps
}

// NewCustomTool builds the custom tool pipeline.
func NewCustomTool(deps Deps) Pipeline {
	return NewPipeline(&toolFamily{path: capability.PathCustomTool, deps: deps}, deps)
}

// NewGenericInternalTool builds the generic internal tool pipeline.
func NewGenericInternalTool(deps Deps) Pipeline {
	return NewPipeline(&toolFamily{path: capability.PathGenericInternalTool, deps: deps}, deps)
}

func (f *toolFamily) Path() capability.Path { return f.path }

func (f *toolFamily) Start(in Input) stream.Payload { return stream.CustomToolStart(in.Tool.Name) }

func (f *toolFamily) Act(ctx context.Context, in Input, u Unit) (models.IterationAnswer, error) {
	args, err := ResolveArguments(ctx, f.deps, in.Tool, u.Query, in.History)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	resp, ok, err := capability.Final(in.Tool.Capability.Execute(ctx, args), nil)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	if !ok {
		return models.IterationAnswer{}, ErrNoToolResponse
	}

	responseType := resp.ResponseType
	if responseType == "" {
		responseType = "text"
	}
	data := resp.Data
	if len(data) == 0 {
		data, _ = json.Marshal(resp.Text)
	}
	if err := f.deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr,
		stream.CustomToolDelta(in.Tool.Name, responseType, data)); err != nil {
		return models.IterationAnswer{}, err
	}

	summary := in.Tool.Capability.Summarize(resp)
	var out struct {
		Reasoning string `json:"reasoning"`
		Answer    string `json:"answer"`
	}
	err = provider.InvokeStructured(ctx, f.deps.LLM, provider.Request{
		System:  answerSystem,
		Prompt:  toolAnswerPrompt(in.Question, u.Query, in.Tool.Name, summary),
		Schema:  toolAnswerSchema,
		Timeout: f.deps.LLMTimeout,
	}, &out)
	if err != nil {
		return models.IterationAnswer{}, fmt.Errorf("summarize %s result: %w", in.Tool.Name, err)
	}

	ans := NewAnswer(in, u)
	m := helpers.NewCitationMapper(resp.Documents)
	ans.Answer = m.Rewrite(out.Answer)
	ans.Reasoning = out.Reasoning
	ans.CitedDocuments = m.Cited()
	ans.ResponseType = responseType
	ans.Data = summary
	ans.FileIDs = resp.FileIDs
	return ans, nil
}
