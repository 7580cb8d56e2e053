package core

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decision(tool string, questions ...string) map[string]any {
	return map[string]any{
		"reasoning": "next: " + tool,
		"next_step": map[string]any{"tool": tool, "questions": questions},
	}
}

type memoryPersister struct {
	records []models.ResearchRecord
}

func (m *memoryPersister) SaveResearchRun(_ context.Context, rec models.ResearchRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func newTestEngine(t *testing.T, cfg Config, llm *providertest.Scripted, opts Options, specs ...capability.Spec) *Engine {
	t.Helper()
	if len(specs) == 0 {
		specs = []capability.Spec{internalSpec()}
	}
	e, err := NewEngine(cfg, llm, specs, opts)
	require.NoError(t, err)
	return e
}

func assertOrdered(t *testing.T, pkts []stream.Packet) {
	t.Helper()
	for i := 1; i < len(pkts); i++ {
		assert.GreaterOrEqual(t, pkts[i].Step, pkts[i-1].Step, "packet %d", i)
		assert.Equal(t, pkts[i-1].Seq+1, pkts[i].Seq)
	}
}

func TestRunFastEndToEnd(t *testing.T) {
	llm := providertest.New().
		OnJSON("orchestrator_decision", decision("internal_search", "What is X?"), decision("closer")).
		OnJSON("branch_answer", map[string]any{"reasoning": "doc 1 says so", "answer": "X is a thing [1]."}).
		OnText(providertest.TextKey, "X is a thing [1].")
	persister := &memoryPersister{}
	e := newTestEngine(t, Config{}, llm, Options{Persister: persister})

	rec := &stream.Recorder{}
	res, err := e.Run(context.Background(), Request{Question: "What is X?", Mode: models.ModeFast}, rec)
	require.NoError(t, err)

	require.Len(t, res.Responses, 1)
	assert.Equal(t, 1, res.Responses[0].IterationNr)
	assert.Equal(t, "What is X?", res.Responses[0].Question)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, 1, res.Citations[0].Number)
	assert.Equal(t, "doc-x", res.Citations[0].Document.ID)
	assert.Equal(t, "X is a thing [1].", res.Answer)
	assert.Equal(t, models.StopFinished, res.StopReason)
	assert.NotEmpty(t, res.RunID)

	pkts := rec.Packets()
	require.NotEmpty(t, pkts)
	last := pkts[len(pkts)-1]
	assert.Equal(t, stream.KindOverallStop, last.Payload.Kind)
	assert.Equal(t, models.StopFinished, last.Payload.StopReason)
	assert.Equal(t, pkts[len(pkts)-2].Step, last.Step)
	assertOrdered(t, pkts)
	assert.Contains(t, rec.Kinds(), stream.KindCitationDelta)

	require.Len(t, persister.records, 1)
	assert.Len(t, persister.records[0].Instructions, 2)
	assert.Equal(t, res.RunID, persister.records[0].RunID)
}

func TestRunBudgetIsInitialMinusCosts(t *testing.T) {
	kg := capability.Spec{Path: capability.PathKnowledgeGraph, Capability: corpusTool{name: "kg"}}
	llm := providertest.New().
		OnJSON("orchestrator_decision",
			decision("internal_search", "a"),
			decision("kg", "b"),
			decision("internal_search", "c"),
			decision("closer")).
		OnJSON("branch_answer", map[string]any{"answer": "found [1]"}).
		OnText(providertest.TextKey, "done [1]")
	e := newTestEngine(t, Config{}, llm, Options{}, internalSpec(), kg)

	res, err := e.Run(context.Background(), Request{Question: "q", Mode: models.ModeThoughtful}, &stream.Recorder{})
	require.NoError(t, err)
	assert.InDelta(t, 6.0-(1.0+2.0+1.0+0), res.RemainingBudget, 1e-9)
	assert.Equal(t, 4, res.Iterations)
	require.Len(t, res.Responses, 3)
	for i, r := range res.Responses {
		assert.Equal(t, i+1, r.IterationNr)
	}
}

func TestRunExhaustedBudgetClosesWithoutAsking(t *testing.T) {
	llm := providertest.New().
		OnJSON("orchestrator_decision", decision("internal_search", "a")).
		OnJSON("branch_answer", map[string]any{"answer": "found [1]"}).
		OnText(providertest.TextKey, "done")
	e := newTestEngine(t, Config{}, llm, Options{})

	res, err := e.Run(context.Background(), Request{Question: "q", Mode: models.ModeFast}, &stream.Recorder{})
	require.NoError(t, err)
	// FAST has 2.0 units and internal search costs 1.0: the second decision
	// spends the rest and the router closes; the third is never asked.
	assert.Equal(t, 2, llm.Count("orchestrator_decision"))
	assert.Len(t, res.Responses, 1)
	assert.LessOrEqual(t, res.RemainingBudget, 0.0)
}

func TestRunUnknownToolIsBounded(t *testing.T) {
	llm := providertest.New().
		OnJSON("orchestrator_decision", decision("calendar", "x")).
		OnText(providertest.TextKey, "nothing found")
	e := newTestEngine(t, Config{}, llm, Options{})

	res, err := e.Run(context.Background(), Request{Question: "q", Mode: models.ModeThoughtful}, &stream.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, budget.DefaultMaxUnknownToolRetries+1, llm.Count("orchestrator_decision"))
	assert.Empty(t, res.Responses)
	assert.Equal(t, models.StopFinished, res.StopReason)
}

func TestRunReservedStepNameCountsAsUnknownTool(t *testing.T) {
	for _, name := range []string{"clarifier", "orchestrator"} {
		t.Run(name, func(t *testing.T) {
			llm := providertest.New().
				OnJSON("orchestrator_decision", decision(name, "x")).
				OnText(providertest.TextKey, "nothing found")
			e := newTestEngine(t, Config{}, llm, Options{})

			res, err := e.Run(context.Background(), Request{Question: "q", Mode: models.ModeThoughtful}, &stream.Recorder{})
			require.NoError(t, err)
			assert.Equal(t, budget.DefaultMaxUnknownToolRetries+1, llm.Count("orchestrator_decision"))
			assert.Equal(t, models.StopFinished, res.StopReason)
		})
	}
}

func TestRunFatalErrorEndsWithErrorPacket(t *testing.T) {
	llm := providertest.New()
	e := newTestEngine(t, Config{}, llm, Options{})

	rec := &stream.Recorder{}
	res, err := e.Run(context.Background(), Request{Question: "q"}, rec)
	require.Error(t, err)
	assert.Equal(t, models.StopError, res.StopReason)
	kinds := rec.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, stream.KindError, kinds[len(kinds)-1])
	assert.NotContains(t, kinds, stream.KindOverallStop)
}

func TestRunEmptyQuestionFails(t *testing.T) {
	e := newTestEngine(t, Config{}, providertest.New(), Options{})
	rec := &stream.Recorder{}
	_, err := e.Run(context.Background(), Request{Question: "  "}, rec)
	require.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Equal(t, []stream.Kind{stream.KindError}, rec.Kinds())
}

func TestRunCancelledWhenConsumerDisconnects(t *testing.T) {
	llm := providertest.New().
		OnJSON("orchestrator_decision", decision("internal_search", "a", "b")).
		OnJSON("branch_answer", map[string]any{"answer": "found [1]"})
	e := newTestEngine(t, Config{}, llm, Options{})

	var alive atomic.Bool
	alive.Store(true)
	rec := &stream.Recorder{}
	sink := stream.SinkFunc(func(ctx context.Context, p stream.Packet) error {
		if p.Payload.Kind == stream.KindSearchToolStart {
			alive.Store(false)
		}
		return rec.Write(ctx, p)
	})
	res, err := e.Run(context.Background(), Request{Question: "q"}, sink, stream.WithLiveness(alive.Load))
	require.NoError(t, err)
	assert.Equal(t, models.StopCancelled, res.StopReason)
	assert.Empty(t, res.Responses)

	pkts := rec.Packets()
	last := pkts[len(pkts)-1]
	assert.Equal(t, stream.KindOverallStop, last.Payload.Kind)
	assert.Equal(t, models.StopCancelled, last.Payload.StopReason)
}

func TestRunDeepClarification(t *testing.T) {
	llm := providertest.New().
		OnJSON("clarification", map[string]any{"needs_clarification": true, "question": "Which X do you mean?"})
	e := newTestEngine(t, Config{ClarificationEnabled: true}, llm, Options{})

	rec := &stream.Recorder{}
	res, err := e.Run(context.Background(), Request{Question: "Tell me about X", Mode: models.ModeDeep}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Which X do you mean?", res.Clarification)
	assert.Equal(t, models.StopClarification, res.StopReason)
	assert.Zero(t, llm.Count("orchestrator_decision"))
	assert.Equal(t, []stream.Kind{stream.KindMessageStart, stream.KindSectionEnd, stream.KindOverallStop}, rec.Kinds())
}

func TestRunDeepCloserLoopsBackOnce(t *testing.T) {
	one := 1
	llm := providertest.New().
		OnJSON("research_plan", map[string]any{"plan": "look up X, then close"}).
		OnJSON("orchestrator_decision", decision("internal_search", "X"), decision("closer")).
		OnJSON("branch_answer", map[string]any{"answer": "X [1]"}).
		OnJSON("closer_sufficiency", map[string]any{"sufficient": false, "gaps": []string{"history of X"}}).
		OnText(providertest.TextKey, "X is a thing [1].")
	cfg := Config{Budget: budget.Config{MaxCloserSuggestions: &one}}
	e := newTestEngine(t, cfg, llm, Options{})

	res, err := e.Run(context.Background(), Request{Question: "What is X?", Mode: models.ModeDeep}, &stream.Recorder{})
	require.NoError(t, err)
	assert.Equal(t, 1, llm.Count("closer_sufficiency"))
	assert.Equal(t, 1, llm.Count("research_plan"))
	assert.Equal(t, []string{"history of X"}, res.Gaps)
	assert.Equal(t, 3, llm.Count("orchestrator_decision"))
	require.Len(t, res.Instructions, 3)
	assert.Equal(t, "look up X, then close", res.Instructions[0].Plan)
}

func TestNewEngineRejectsUnknownPath(t *testing.T) {
	_, err := NewEngine(Config{}, providertest.New(), []capability.Spec{
		{Path: capability.Path("calendar"), Capability: corpusTool{name: "cal"}},
	}, Options{})
	require.ErrorIs(t, err, capability.ErrUnknownPath)
}

func TestNewEngineRequiresFetcherForWebSearch(t *testing.T) {
	_, err := NewEngine(Config{}, providertest.New(), []capability.Spec{
		{Path: capability.PathWebSearch, Capability: corpusTool{name: "web"}},
	}, Options{})
	require.Error(t, err)
}

func TestRequestToolFilter(t *testing.T) {
	kg := capability.Spec{Path: capability.PathKnowledgeGraph, Capability: corpusTool{name: "kg"}}
	e := newTestEngine(t, Config{}, providertest.New(), Options{}, internalSpec(), kg)
	reg, err := e.registry([]string{"KG"})
	require.NoError(t, err)
	assert.Equal(t, []capability.Path{capability.PathKnowledgeGraph}, reg.Paths())

	_, err = e.registry([]string{"nope"})
	require.ErrorIs(t, err, capability.ErrEmptyRegistry)
}
