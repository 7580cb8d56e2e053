package subagent

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
)

type knowledgeGraph struct{ deps Deps }

// NewKnowledgeGraph builds the knowledge-graph search pipeline. The graph
// tool answers directly; its text cites the returned entity documents.
func NewKnowledgeGraph(deps Deps) Pipeline {
	return NewPipeline(&knowledgeGraph{deps: deps}, deps)
}

func (k *knowledgeGraph) Path() capability.Path { return capability.PathKnowledgeGraph }

func (k *knowledgeGraph) Start(Input) stream.Payload { return stream.SearchToolStart(false) }

func (k *knowledgeGraph) Act(ctx context.Context, in Input, u Unit) (models.IterationAnswer, error) {
	args := map[string]any{"query": u.Query}
	if k.deps.Registry != nil {
		if err := k.deps.Registry.ValidateArguments(in.Tool.Name, args); err != nil {
			return models.IterationAnswer{}, err
		}
	}
	resp, ok, err := capability.Final(in.Tool.Capability.Execute(ctx, args), nil)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	if !ok {
		return models.IterationAnswer{}, ErrNoToolResponse
	}
	if err := k.deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr,
		stream.SearchToolDelta([]string{u.Query}, resp.Documents)); err != nil {
		return models.IterationAnswer{}, err
	}

	ans := NewAnswer(in, u)
	m := helpers.NewCitationMapper(resp.Documents)
	ans.Answer = m.Rewrite(resp.Text)
	if ans.Answer == "" {
		ans.Answer = NoDocumentsAnswer
	}
	ans.Reasoning = in.Tool.Capability.Summarize(resp)
	ans.CitedDocuments = m.Cited()
	ans.ResponseType = "knowledge_graph"
	ans.Data = string(resp.Data)
	return ans, nil
}
