package web_search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBraveDiscoverAndTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"<b>Go</b> generics","url":"https://go.dev/doc/tutorial/generics","description":"Tutorial &amp; intro"},
			{"title":"dup","url":"https://go.dev/doc/tutorial/generics?utm_source=x","description":"same page"},
			{"title":"no url","url":"","description":""}
		]}}`))
	}))
	defer srv.Close()

	searcher, err := NewWebSearcher(Config{Provider: BraveProvider, APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	tool := NewTool(searcher, 5, nil)

	resp, ok, err := capability.Final(tool.Execute(context.Background(), map[string]any{"query": "go generics"}), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, resp.Documents, 1)
	d := resp.Documents[0]
	assert.Equal(t, "Go generics", d.Title)
	assert.Equal(t, "Tutorial & intro", d.Snippet)
	assert.Equal(t, models.SourceWeb, d.Source)
	assert.NotEmpty(t, d.ID)
}

func TestSerperRetriesThenReturnsEmptySet(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "k", r.Header.Get("X-API-KEY"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	searcher, err := NewWebSearcher(Config{Provider: SerperProvider, APIKey: "k", BaseURL: srv.URL, Retries: 2})
	require.NoError(t, err)
	resp, ok, err := capability.Final(NewTool(searcher, 5, nil).Execute(context.Background(), map[string]any{"query": "x"}), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, resp.Documents)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestSerperParsesOrganic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"organic":[{"title":"A","link":"https://a.example","snippet":"s","date":"2 days ago"}]}`))
	}))
	defer srv.Close()

	searcher, err := NewWebSearcher(Config{Provider: SerperProvider, BaseURL: srv.URL, RatePerSecond: 100})
	require.NoError(t, err)
	results, err := searcher.Discover(context.Background(), "a", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2 days ago", results[0].PublishedAt)
}

func TestUnsupportedProvider(t *testing.T) {
	_, err := NewWebSearcher(Config{Provider: "altavista"})
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}
