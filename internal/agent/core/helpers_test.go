package core

import (
	"context"
	"encoding/json"
	"iter"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/require"
)

// corpusTool answers every query with the same documents.
type corpusTool struct {
	name string
	docs []models.Document
}

func (c corpusTool) Name() string                    { return c.name }
func (c corpusTool) Description() string             { return "search the " + c.name + " corpus" }
func (c corpusTool) ArgumentSchema() json.RawMessage { return capability.QueryArgument }
func (c corpusTool) DeriveArguments(_ context.Context, q string, _ []models.ChatMessage) (map[string]any, error) {
	return map[string]any{"query": q}, nil
}
func (c corpusTool) Execute(context.Context, map[string]any) iter.Seq2[capability.Response, error] {
	return capability.Single(capability.Response{Kind: capability.KindSearchResults, Documents: c.docs}, nil)
}
func (c corpusTool) Summarize(r capability.Response) string { return r.Text }

var xDoc = models.Document{ID: "doc-x", Title: "What X is", Snippet: "X is a thing.", Source: models.SourceInternal}

func internalSpec() capability.Spec {
	return capability.Spec{Path: capability.PathInternalSearch, Capability: corpusTool{name: "internal_search", docs: []models.Document{xDoc}}}
}

func testRegistry(t *testing.T, specs ...capability.Spec) *capability.Registry {
	t.Helper()
	if len(specs) == 0 {
		specs = []capability.Spec{internalSpec()}
	}
	reg, err := capability.NewRegistry(specs, capability.Options{})
	require.NoError(t, err)
	return reg
}
