package web_fetch

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenURLDeriveArguments(t *testing.T) {
	tool := NewOpenURLTool(&countingFetcher{})
	args, err := tool.DeriveArguments(context.Background(), "summarise https://example.com/post?id=3.", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post?id=3.", args["url"])

	args, err = tool.DeriveArguments(context.Background(), "what does it say?", []models.ChatMessage{
		{Role: "user", Content: "look at (https://a.example/x)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/x", args["url"])

	args, err = tool.DeriveArguments(context.Background(), "no link here", nil)
	require.NoError(t, err)
	assert.Nil(t, args)
}

func TestOpenURLExecute(t *testing.T) {
	next := &countingFetcher{}
	tool := NewOpenURLTool(next)
	resp, ok, err := capability.Final(tool.Execute(context.Background(), map[string]any{"url": "https://example.com/p"}), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "[1] T <https://example.com/p>\nbody", tool.Summarize(resp))

	_, _, err = capability.Final(tool.Execute(context.Background(), map[string]any{}), nil)
	require.ErrorIs(t, err, capability.ErrInvalidArguments)
}
