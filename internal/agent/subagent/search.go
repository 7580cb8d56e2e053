package subagent

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

// NoDocumentsAnswer is the answer recorded when a branch found no evidence.
const NoDocumentsAnswer = "No relevant documents were found for this question."

// AnswerFromDocuments asks the model for a cited answer to subQuestion over
// docs and maps its [n] markers into the answer's cited documents.
func AnswerFromDocuments(ctx context.Context, deps Deps, in Input, u Unit, docs []models.Document) (models.IterationAnswer, error) {
	ans := NewAnswer(in, u)
	if len(docs) == 0 {
		ans.Answer = NoDocumentsAnswer
		ans.Reasoning = "The search returned no documents."
		return ans, nil
	}
	var out branchAnswer
	err := provider.InvokeStructured(ctx, deps.LLM, provider.Request{
		System:  answerSystem,
		Prompt:  answerPrompt(in.Question, u.Query, docs),
		Schema:  answerSchema,
		Timeout: deps.LLMTimeout,
	}, &out)
	if err != nil {
		return models.IterationAnswer{}, fmt.Errorf("answer %q: %w", u.Query, err)
	}
	m := helpers.NewCitationMapper(docs)
	ans.Answer = m.Rewrite(out.Answer)
	ans.Reasoning = out.Reasoning
	for _, c := range out.Claims {
		ans.Claims = append(ans.Claims, m.Rewrite(c))
	}
	ans.CitedDocuments = m.Cited()
	return ans, nil
}

type internalSearch struct{ deps Deps }

// NewInternalSearch builds the internal search pipeline.
func NewInternalSearch(deps Deps) Pipeline {
	return NewPipeline(&internalSearch{deps: deps}, deps)
}

func (s *internalSearch) Path() capability.Path { return capability.PathInternalSearch }

func (s *internalSearch) Start(Input) stream.Payload { return stream.SearchToolStart(false) }

func (s *internalSearch) Act(ctx context.Context, in Input, u Unit) (models.IterationAnswer, error) {
	docs, err := runSearch(ctx, s.deps, in, u)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	ans, err := AnswerFromDocuments(ctx, s.deps, in, u, docs)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	ans.ResponseType = "internal_search"
	return ans, nil
}

// runSearch executes a query-driven capability and streams the documents it found.
func runSearch(ctx context.Context, deps Deps, in Input, u Unit) ([]models.Document, error) {
	args := map[string]any{"query": u.Query}
	if deps.Registry != nil {
		if err := deps.Registry.ValidateArguments(in.Tool.Name, args); err != nil {
			return nil, err
		}
	}
	resp, ok, err := capability.Final(in.Tool.Capability.Execute(ctx, args), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoToolResponse
	}
	if err := deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr,
		stream.SearchToolDelta([]string{u.Query}, resp.Documents)); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}
