package capability

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema json.RawMessage
}

func (s stubTool) Name() string                    { return s.name }
func (s stubTool) Description() string             { return "stub " + s.name }
func (s stubTool) ArgumentSchema() json.RawMessage { return s.schema }
func (s stubTool) DeriveArguments(context.Context, string, []models.ChatMessage) (map[string]any, error) {
	return nil, nil
}
func (s stubTool) Execute(context.Context, map[string]any) iter.Seq2[Response, error] {
	return Single(Response{Kind: KindFinal, Text: "ok"}, nil)
}
func (s stubTool) Summarize(r Response) string { return r.Text }

func TestNewRegistryAssignsIDsAndAppendsCloser(t *testing.T) {
	reg, err := NewRegistry([]Spec{
		{Path: PathInternalSearch, Capability: stubTool{name: "Internal Search", schema: QueryArgument}},
		{Path: PathWebSearch, Capability: stubTool{name: "web_search", schema: QueryArgument}, Cost: 2.5},
	}, Options{})
	require.NoError(t, err)

	tools := reg.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "internal_search", tools[0].Name)
	assert.Equal(t, 1, tools[0].ToolID)
	assert.Equal(t, 1.0, tools[0].Cost)
	assert.Equal(t, 2.5, tools[1].Cost)
	assert.Equal(t, CloserName, tools[2].Name)
	assert.Nil(t, tools[2].Capability)
	assert.Equal(t, PathCloser, tools[2].Path)

	got, ok := reg.Lookup("Internal Search")
	require.True(t, ok)
	assert.Equal(t, PathInternalSearch, got.Path)
	assert.Equal(t, []Path{PathInternalSearch, PathWebSearch}, reg.Paths())
}

func TestNewRegistryRejectsUnknownPath(t *testing.T) {
	_, err := NewRegistry([]Spec{{Path: Path("calendar"), Capability: stubTool{name: "cal"}}}, Options{})
	require.ErrorIs(t, err, ErrUnknownPath)

	_, err = NewRegistry([]Spec{{Path: PathLogger, Capability: stubTool{name: "log"}}}, Options{})
	require.ErrorIs(t, err, ErrUnknownPath)
}

func TestNewRegistryRejectsEmptyAndDuplicates(t *testing.T) {
	_, err := NewRegistry(nil, Options{})
	require.ErrorIs(t, err, ErrEmptyRegistry)

	_, err = NewRegistry([]Spec{
		{Path: PathCustomTool, Capability: stubTool{name: "weather"}},
		{Path: PathCustomTool, Capability: stubTool{name: "Weather"}},
	}, Options{})
	require.ErrorIs(t, err, ErrDuplicateTool)

	_, err = NewRegistry([]Spec{{Path: PathCustomTool, Capability: stubTool{name: "end"}}}, Options{})
	require.ErrorIs(t, err, ErrDuplicateTool)
}

func TestNewRegistryEnforcesRequiredTools(t *testing.T) {
	_, err := NewRegistry([]Spec{
		{Path: PathCustomTool, Capability: stubTool{name: "weather"}},
	}, Options{Required: []Path{PathInternalSearch}})
	require.ErrorIs(t, err, ErrToolMissing)
}

func TestNewRegistryRejectsBrokenSchema(t *testing.T) {
	_, err := NewRegistry([]Spec{
		{Path: PathCustomTool, Capability: stubTool{name: "weather", schema: json.RawMessage(`{"type": 12}`)}},
	}, Options{})
	require.Error(t, err)
}

func TestValidateArguments(t *testing.T) {
	reg, err := NewRegistry([]Spec{
		{Path: PathInternalSearch, Capability: stubTool{name: "search", schema: QueryArgument}},
	}, Options{})
	require.NoError(t, err)

	require.NoError(t, reg.ValidateArguments("search", map[string]any{"query": "go"}))
	err = reg.ValidateArguments("search", map[string]any{"q": "go"})
	require.True(t, errors.Is(err, ErrInvalidArguments))
}

func TestFinalSkipsHeartbeats(t *testing.T) {
	seq := func(yield func(Response, error) bool) {
		if !yield(Response{Kind: KindHeartbeat}, nil) {
			return
		}
		if !yield(Response{Kind: KindHeartbeat}, nil) {
			return
		}
		yield(Response{Kind: KindImages, Text: "done"}, nil)
	}
	beats := 0
	resp, ok, err := Final(seq, func() { beats++ })
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 2, beats)
}

func TestPathClassification(t *testing.T) {
	assert.True(t, PathWebSearch.RequiresQueries())
	assert.False(t, PathCustomTool.RequiresQueries())
	assert.True(t, PathEnd.IsSentinel())
	assert.True(t, PathCloser.IsDecision())
	assert.False(t, PathClarifier.IsDecision())
	assert.False(t, PathOrchestrator.IsDecision())
	assert.False(t, PathEnd.IsToolFamily())
	assert.Equal(t, 4, PathWebSearch.ParallelismCap(0))
	assert.Equal(t, 1, PathKnowledgeGraph.ParallelismCap(4))
}
