// Package search exposes a local document corpus as the internal search tool.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
)

const DefaultMaxResults = 6

type Search struct {
	corpus     *Corpus
	maxResults int
}

func NewSearch(corpus *Corpus, maxResults int) *Search {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Search{corpus: corpus, maxResults: maxResults}
}

func (s *Search) Name() string { return "internal_search" }

func (s *Search) Description() string {
	return "Searches the organisation's internal documents (notes, reports, wikis). Prefer it for company-specific or private knowledge."
}

func (s *Search) ArgumentSchema() json.RawMessage { return capability.QueryArgument }

func (s *Search) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return map[string]any{"query": query}, nil
}

func (s *Search) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(capability.Response{}, err)
			return
		}
		docs, err := s.corpus.Search(capability.QueryFromArgs(args, ""), s.maxResults)
		if err != nil {
			yield(capability.Response{}, fmt.Errorf("internal search: %w", err))
			return
		}
		yield(capability.Response{Kind: capability.KindSearchResults, Documents: docs}, nil)
	}
}

func (s *Search) Summarize(resp capability.Response) string {
	return fmt.Sprintf("%d internal documents", len(resp.Documents))
}
