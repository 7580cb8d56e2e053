package web_search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/brave"
	searchmodels "github.com/mohammad-safakhou/deepresearch/tools/web_search/models"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search/serper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]searchmodels.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// Config selects and tunes a search provider.
type Config struct {
	Provider      Provider
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	Retries       int
	RatePerSecond float64
}

func NewWebSearcher(cfg Config) (WebSearcher, error) {
	client := helpers.NewHTTPClient(cfg.Timeout, cfg.Retries, 0)
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	switch cfg.Provider {
	case SerperProvider:
		return serper.Search{ApiKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: client, Limiter: limiter}, nil
	case BraveProvider:
		return brave.Search{ApiKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: client, Limiter: limiter}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Tool exposes a WebSearcher as the web search capability. Search is best
// effort: a provider that keeps failing yields no results, not an error.
type Tool struct {
	searcher   WebSearcher
	maxResults int
	logger     *zap.Logger
}

func NewTool(searcher WebSearcher, maxResults int, logger *zap.Logger) *Tool {
	if maxResults <= 0 {
		maxResults = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{searcher: searcher, maxResults: maxResults, logger: logger.Named("web_search")}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Searches the public web. Returns titles, URLs and snippets; the pages worth reading are then opened in full."
}

func (t *Tool) ArgumentSchema() json.RawMessage { return capability.QueryArgument }

func (t *Tool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return map[string]any{"query": query}, nil
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		q := capability.QueryFromArgs(args, "")
		results, err := t.searcher.Discover(ctx, q, t.maxResults)
		if err != nil {
			if ctx.Err() != nil {
				yield(capability.Response{}, ctx.Err())
				return
			}
			t.logger.Warn("search failed; returning no results", zap.String("query", q), zap.Error(err))
			results = nil
		}
		yield(capability.Response{Kind: capability.KindSearchResults, Documents: toDocuments(results)}, nil)
	}
}

func (t *Tool) Summarize(resp capability.Response) string {
	return fmt.Sprintf("%d web results", len(resp.Documents))
}

func toDocuments(results []searchmodels.Result) []models.Document {
	docs := make([]models.Document, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		id, err := helpers.URLFingerprint(r.URL)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		doc := models.Document{
			ID:      id,
			Title:   helpers.PromptText(r.Title, 300),
			URL:     r.URL,
			Snippet: helpers.PromptText(r.Snippet, 1000),
			Source:  models.SourceWeb,
		}
		if r.PublishedAt != "" {
			doc.Metadata = map[string]string{"published": r.PublishedAt}
		}
		docs = append(docs, doc)
	}
	return docs
}
