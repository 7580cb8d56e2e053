package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name   string
	schema json.RawMessage
	derive func(query string) (map[string]any, error)
	exec   func(args map[string]any) iter.Seq2[capability.Response, error]
}

func (f fakeTool) Name() string        { return f.name }
func (f fakeTool) Description() string { return "fake " + f.name }
func (f fakeTool) ArgumentSchema() json.RawMessage {
	if f.schema == nil {
		return capability.QueryArgument
	}
	return f.schema
}
func (f fakeTool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	if f.derive == nil {
		return map[string]any{"query": query}, nil
	}
	return f.derive(query)
}
func (f fakeTool) Execute(_ context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return f.exec(args)
}
func (f fakeTool) Summarize(r capability.Response) string {
	if r.Text != "" {
		return r.Text
	}
	return fmt.Sprintf("%d images", len(r.Images))
}

func docsFor(query string, n int) []models.Document {
	out := make([]models.Document, n)
	for i := range out {
		out[i] = models.Document{
			ID:      fmt.Sprintf("%s-%d", query, i+1),
			Title:   fmt.Sprintf("%s doc %d", query, i+1),
			Snippet: "snippet",
			Source:  models.SourceInternal,
		}
	}
	return out
}

type harness struct {
	rec  *stream.Recorder
	deps Deps
	reg  *capability.Registry
	llm  *providertest.Scripted
}

func newHarness(t *testing.T, specs ...capability.Spec) *harness {
	t.Helper()
	reg, err := capability.NewRegistry(specs, capability.Options{})
	require.NoError(t, err)
	rec := &stream.Recorder{}
	llm := providertest.New()
	return &harness{
		rec: rec,
		reg: reg,
		llm: llm,
		deps: Deps{
			LLM:         llm,
			Emitter:     stream.NewEmitter(rec, nil),
			Registry:    reg,
			Parallelism: 4,
		},
	}
}

func (h *harness) input(t *testing.T, name string, queries ...string) Input {
	t.Helper()
	tool, ok := h.reg.Lookup(name)
	require.True(t, ok)
	return Input{
		RunID:       "run",
		Question:    "what is going on?",
		Queries:     queries,
		IterationNr: 1,
		Step:        2,
		Mode:        models.ModeFast,
		Tool:        tool,
	}
}

func TestBranchCapsAndSkipsEmpty(t *testing.T) {
	queries := make([]string, 10)
	for i := range queries {
		queries[i] = fmt.Sprintf("q%d", i)
	}
	units := Branch(queries, 4)
	require.Len(t, units, 4)
	for i, u := range units {
		assert.Equal(t, i, u.ParallelizationNr)
		assert.Equal(t, queries[i], u.Query)
	}

	units = Branch([]string{"", "a", "", "b"}, 0)
	require.Len(t, units, 1)
	assert.Equal(t, "a", units[0].Query)
}

func TestReduceKeepsOnlyCurrentIteration(t *testing.T) {
	rec := &stream.Recorder{}
	em := stream.NewEmitter(rec, nil)
	pool := []models.IterationAnswer{
		{IterationNr: 1, Answer: "old"},
		{IterationNr: 2, Answer: "a"},
		{IterationNr: 2, Answer: "b"},
		{IterationNr: 3, Answer: "future"},
	}
	got, err := Reduce(context.Background(), em, 5, 2, pool)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Answer)
	assert.Equal(t, "b", got[1].Answer)
	assert.Equal(t, []stream.Kind{stream.KindSectionEnd}, rec.Kinds())
}

func TestReduceStreamsCitedDigestBeforeSectionEnd(t *testing.T) {
	rec := &stream.Recorder{}
	em := stream.NewEmitter(rec, nil)
	a, b, c := models.Document{ID: "a"}, models.Document{ID: "b"}, models.Document{ID: "c"}
	pool := []models.IterationAnswer{
		{IterationNr: 1, CitedDocuments: map[int]models.Document{1: c}},
		{IterationNr: 2, CitedDocuments: map[int]models.Document{2: a, 1: b}},
		{IterationNr: 2, CitedDocuments: map[int]models.Document{1: a}},
		{IterationNr: 2, Answer: "nothing cited"},
	}
	_, err := Reduce(context.Background(), em, 4, 2, pool)
	require.NoError(t, err)

	assert.Equal(t, []stream.Kind{stream.KindSearchToolDelta, stream.KindSectionEnd}, rec.Kinds())
	digest := rec.Packets()[0].Payload
	assert.Empty(t, digest.Queries)
	assert.Equal(t, []models.Document{b, a}, digest.Documents)
}

func TestFanOutRespectsLimitAndOrders(t *testing.T) {
	var inFlight, peak int32
	units := Branch([]string{"a", "b", "c", "d", "e", "f"}, 6)
	answers, err := FanOut(context.Background(), capability.PathInternalSearch, units, 2,
		func(_ context.Context, u Unit) (models.IterationAnswer, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			defer atomic.AddInt32(&inFlight, -1)
			return models.IterationAnswer{ParallelizationNr: u.ParallelizationNr, Question: u.Query}, nil
		})
	require.NoError(t, err)
	require.Len(t, answers, 6)
	for i, a := range answers {
		assert.Equal(t, i, a.ParallelizationNr)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFanOutFailsOnBranchError(t *testing.T) {
	boom := errors.New("boom")
	units := Branch([]string{"a", "b", "c"}, 3)
	_, err := FanOut(context.Background(), capability.PathWebSearch, units, 3,
		func(_ context.Context, u Unit) (models.IterationAnswer, error) {
			if u.Query == "b" {
				return models.IterationAnswer{}, boom
			}
			return models.IterationAnswer{}, nil
		})
	require.ErrorIs(t, err, boom)
	var be *BranchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Branch)
}

func TestInternalSearchCitesAndStreams(t *testing.T) {
	tool := fakeTool{name: "internal_search", exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
		q := args["query"].(string)
		return capability.Single(capability.Response{Kind: capability.KindSearchResults, Documents: docsFor(q, 3)}, nil)
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathInternalSearch, Capability: tool})
	h.llm.OnJSON("branch_answer", map[string]any{
		"reasoning": "docs agree",
		"answer":    "Revenue grew [3] after the launch [1][3].",
		"claims":    []string{"growth [3]"},
	})

	answers, err := NewInternalSearch(h.deps).Run(context.Background(), h.input(t, "internal_search", "revenue", "launch"))
	require.NoError(t, err)
	require.Len(t, answers, 2)

	a := answers[0]
	assert.Equal(t, "revenue", a.Question)
	assert.Equal(t, 1, a.IterationNr)
	assert.Equal(t, "Revenue grew [1] after the launch [2][1].", a.Answer)
	assert.Equal(t, []string{"growth [1]"}, a.Claims)
	require.Len(t, a.CitedDocuments, 2)
	assert.Equal(t, "revenue-3", a.CitedDocuments[1].ID)
	assert.Equal(t, "revenue-1", a.CitedDocuments[2].ID)

	kinds := h.rec.Kinds()
	require.Len(t, kinds, 5)
	assert.Equal(t, stream.KindSearchToolStart, kinds[0])
	assert.Equal(t, stream.KindSearchToolDelta, kinds[1])
	assert.Equal(t, stream.KindSearchToolDelta, kinds[2])
	assert.Equal(t, stream.KindSearchToolDelta, kinds[3])
	assert.Equal(t, stream.KindSectionEnd, kinds[4])
	for _, p := range h.rec.Packets() {
		assert.Equal(t, 2, p.Step)
	}
	assert.Len(t, h.rec.Packets()[3].Payload.Documents, 4)
}

func TestInternalSearchWithoutDocumentsSkipsModel(t *testing.T) {
	tool := fakeTool{name: "internal_search", exec: func(map[string]any) iter.Seq2[capability.Response, error] {
		return capability.Single(capability.Response{Kind: capability.KindSearchResults}, nil)
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathInternalSearch, Capability: tool})

	answers, err := NewInternalSearch(h.deps).Run(context.Background(), h.input(t, "internal_search", "nothing"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, NoDocumentsAnswer, answers[0].Answer)
	assert.Empty(t, answers[0].CitedDocuments)
	assert.Zero(t, h.llm.Count("branch_answer"))
}

func TestSearchRequiresQueries(t *testing.T) {
	tool := fakeTool{name: "internal_search", exec: func(map[string]any) iter.Seq2[capability.Response, error] {
		return capability.Single(capability.Response{}, nil)
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathInternalSearch, Capability: tool})
	_, err := NewInternalSearch(h.deps).Run(context.Background(), h.input(t, "internal_search"))
	require.Error(t, err)
	assert.Empty(t, h.rec.Kinds())
}

func TestKnowledgeGraphRunsSingleBranch(t *testing.T) {
	var calls int32
	tool := fakeTool{name: "kg", exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
		atomic.AddInt32(&calls, 1)
		docs := []models.Document{
			{ID: "e1", Title: "Acme", Source: models.SourceKnowledgeGraph},
			{ID: "e2", Title: "Globex", Source: models.SourceKnowledgeGraph},
		}
		return capability.Single(capability.Response{Kind: capability.KindFinal, Text: "Acme acquired Globex [2].", Documents: docs}, nil)
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathKnowledgeGraph, Capability: tool})

	answers, err := NewKnowledgeGraph(h.deps).Run(context.Background(), h.input(t, "kg", "who bought globex", "second query"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, "Acme acquired Globex [1].", answers[0].Answer)
	assert.Equal(t, "e2", answers[0].CitedDocuments[1].ID)
}

func TestImageGenerationForwardsHeartbeats(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`)
	tool := fakeTool{name: "image_generation", schema: schema, exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
		return func(yield func(capability.Response, error) bool) {
			if !yield(capability.Response{Kind: capability.KindHeartbeat}, nil) {
				return
			}
			if !yield(capability.Response{Kind: capability.KindHeartbeat}, nil) {
				return
			}
			yield(capability.Response{
				Kind:    capability.KindImages,
				Images:  []models.GeneratedImage{{URL: "https://img.example/1.png", FileID: "f1"}},
				FileIDs: []string{"f1"},
			}, nil)
		}
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathImageGeneration, Capability: tool})

	answers, err := NewImageGeneration(h.deps).Run(context.Background(), h.input(t, "image_generation", "a red fox"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "image", answers[0].ResponseType)
	assert.Equal(t, []string{"f1"}, answers[0].FileIDs)
	assert.Equal(t, []stream.Kind{
		stream.KindImageGenerationStart,
		stream.KindImageGenerationHeartbeat,
		stream.KindImageGenerationHeartbeat,
		stream.KindImageGenerationDelta,
		stream.KindSectionEnd,
	}, h.rec.Kinds())
}

func TestCustomToolUsesToolCallingWhenSupported(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	var gotArgs map[string]any
	tool := fakeTool{name: "weather", schema: schema, exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
		gotArgs = args
		return capability.Single(capability.Response{Kind: capability.KindFinal, Text: "18C and cloudy", ResponseType: "json", Data: json.RawMessage(`{"temp":18}`)}, nil)
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathCustomTool, Capability: tool})
	h.llm.ToolCalling = true
	h.llm.OnToolCall("weather", map[string]any{"city": "Oslo"})
	h.llm.OnJSON("tool_answer", map[string]any{"reasoning": "read it", "answer": "It is 18C in Oslo."})

	in := h.input(t, "weather")
	answers, err := NewCustomTool(h.deps).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Oslo", gotArgs["city"])
	assert.Equal(t, in.Question, answers[0].Question)
	assert.Equal(t, "It is 18C in Oslo.", answers[0].Answer)
	assert.Equal(t, "json", answers[0].ResponseType)
	assert.Equal(t, "18C and cloudy", answers[0].Data)

	pkts := h.rec.Packets()
	require.Len(t, pkts, 3)
	assert.Equal(t, stream.KindCustomToolStart, pkts[0].Payload.Kind)
	assert.Equal(t, "weather", pkts[0].Payload.ToolName)
	assert.JSONEq(t, `{"temp":18}`, string(pkts[1].Payload.Data))
}

func TestToolArgumentsFromStructuredCallWithoutToolCalling(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"},"units":{"type":"string","enum":["metric","imperial"]}},"required":["city","units"]}`)
	var gotArgs map[string]any
	tool := fakeTool{
		name:   "weather",
		schema: schema,
		derive: func(string) (map[string]any, error) { return nil, nil },
		exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
			gotArgs = args
			return capability.Single(capability.Response{Kind: capability.KindFinal, Text: "18C"}, nil)
		},
	}
	h := newHarness(t, capability.Spec{Path: capability.PathCustomTool, Capability: tool})
	h.llm.OnJSON(ArgumentsSchemaName, map[string]any{"city": "Oslo", "units": "metric"})
	h.llm.OnJSON("tool_answer", map[string]any{"answer": "It is 18C in Oslo."})

	answers, err := NewCustomTool(h.deps).Run(context.Background(), h.input(t, "weather", "weather in Oslo"))
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, map[string]any{"city": "Oslo", "units": "metric"}, gotArgs)
	assert.Equal(t, 1, h.llm.Count(ArgumentsSchemaName))
	assert.Zero(t, h.llm.Count(providertest.ToolKey))
}

func TestToolWithoutParametersGetsEmptyArguments(t *testing.T) {
	called := false
	tool := fakeTool{
		name:   "uptime",
		schema: json.RawMessage(`{"type":"object","properties":{}}`),
		derive: func(string) (map[string]any, error) { return nil, nil },
		exec: func(args map[string]any) iter.Seq2[capability.Response, error] {
			called = true
			return capability.Single(capability.Response{Kind: capability.KindFinal, Text: "up 3 days"}, nil)
		},
	}
	h := newHarness(t, capability.Spec{Path: capability.PathGenericInternalTool, Capability: tool})
	h.llm.OnJSON(ArgumentsSchemaName, map[string]any{})
	h.llm.OnJSON("tool_answer", map[string]any{"answer": "Up for 3 days."})

	_, err := NewGenericInternalTool(h.deps).Run(context.Background(), h.input(t, "uptime", "how long has it been up?"))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestToolArgumentsFailWhenModelCannotFillThem(t *testing.T) {
	tool := fakeTool{
		name:   "calculator",
		derive: func(string) (map[string]any, error) { return nil, nil },
		exec: func(map[string]any) iter.Seq2[capability.Response, error] {
			return capability.Single(capability.Response{Kind: capability.KindFinal, Text: "4"}, nil)
		},
	}
	h := newHarness(t, capability.Spec{Path: capability.PathGenericInternalTool, Capability: tool})
	h.llm.OnJSON(ArgumentsSchemaName, map[string]any{"expression": "2+2"})

	_, err := NewGenericInternalTool(h.deps).Run(context.Background(), h.input(t, "calculator", "2+2"))
	require.ErrorIs(t, err, ErrNoArguments)
	assert.NotContains(t, h.rec.Kinds(), stream.KindSectionEnd)
}

func TestToolWithoutResponseFails(t *testing.T) {
	tool := fakeTool{name: "silent", exec: func(map[string]any) iter.Seq2[capability.Response, error] {
		return func(func(capability.Response, error) bool) {}
	}}
	h := newHarness(t, capability.Spec{Path: capability.PathCustomTool, Capability: tool})
	_, err := NewCustomTool(h.deps).Run(context.Background(), h.input(t, "silent", "ping"))
	require.ErrorIs(t, err, ErrNoToolResponse)
}
