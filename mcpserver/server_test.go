package mcpserver

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string                    { return "echo" }
func (echoTool) Description() string             { return "echo the query" }
func (echoTool) ArgumentSchema() json.RawMessage { return capability.QueryArgument }
func (echoTool) DeriveArguments(context.Context, string, []models.ChatMessage) (map[string]any, error) {
	return nil, nil
}
func (echoTool) Execute(_ context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return capability.Single(capability.Response{Kind: capability.KindFinal, Text: capability.QueryFromArgs(args, "")}, nil)
}
func (echoTool) Summarize(r capability.Response) string { return "echo: " + r.Text }

type fakeEngine struct{ got core.Request }

func (f *fakeEngine) Run(_ context.Context, req core.Request, _ stream.Sink, _ ...stream.Option) (core.Result, error) {
	f.got = req
	return core.Result{
		Answer:     "X is a thing [1].",
		StopReason: models.StopFinished,
		Citations:  []models.Citation{{Number: 1, Document: models.Document{Title: "Doc", URL: "https://x.test"}}},
	}, nil
}

func (f *fakeEngine) Tools() ([]capability.OrchestratorTool, error) {
	return []capability.OrchestratorTool{
		{ToolID: 1, Name: "echo", Capability: echoTool{}},
		{ToolID: 2, Name: capability.CloserName},
	}, nil
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestResearchTool(t *testing.T) {
	eng := &fakeEngine{}
	h := &handlers{engine: eng}
	res, err := h.research(context.Background(), call(ResearchToolName, map[string]any{"question": "what is x", "mode": "deep"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "X is a thing [1].\n\nSources:\n[1] Doc (x.test) <https://x.test>", text(t, res))
	assert.Equal(t, models.ModeDeep, eng.got.Mode)

	res, err = h.research(context.Background(), call(ResearchToolName, map[string]any{"question": " "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDirectTool(t *testing.T) {
	h := &handlers{engine: &fakeEngine{}}
	res, err := h.direct(echoTool{})(context.Background(), call("echo", map[string]any{"query": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", text(t, res))
}

func TestNewRegistersTools(t *testing.T) {
	s, err := New(&fakeEngine{}, nil)
	require.NoError(t, err)
	msg := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))
	var names []string
	for _, tl := range resp.Result.Tools {
		names = append(names, tl.Name)
	}
	assert.ElementsMatch(t, []string{ResearchToolName, "echo"}, names)
}

func TestFormatClarification(t *testing.T) {
	got := FormatResult(core.Result{StopReason: models.StopClarification, Clarification: "Which X?"})
	assert.Equal(t, "Which X?", got)
}

func TestFormatResultTruncatesSourceSnippets(t *testing.T) {
	long := strings.Repeat("word ", 60)
	got := FormatResult(core.Result{
		Answer:     "Answer [1].",
		StopReason: models.StopFinished,
		Citations:  []models.Citation{{Number: 1, Document: models.Document{Title: "Doc", Snippet: long}}},
	})
	want := "Answer [1].\n\nSources:\n[1] Doc — \"" + strings.TrimSpace(long)[:sourceSnippetChars] + "…\""
	assert.Equal(t, want, got)

	assert.Equal(t, "Plain.", FormatResult(core.Result{Answer: "Plain.", StopReason: models.StopFinished}))
}
