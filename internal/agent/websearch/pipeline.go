// Package websearch implements the web research pipeline: search, dedup,
// fetch, collect, summarize and reduce.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/subagent"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("deepresearch/internal/agent/websearch")

// DefaultMaxChars bounds the text kept from each fetched page.
const DefaultMaxChars = 10000

// ErrNoFetcher is returned when the pipeline is built without a fetcher.
var ErrNoFetcher = errors.New("web search requires a fetcher")

// Fetcher retrieves the full content of one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}

// Config tunes the pipeline.
type Config struct {
	// MaxChars is the per-page truncation ceiling.
	MaxChars int
	// FetchParallelism caps concurrent page fetches.
	FetchParallelism int
	// MaxSelections caps how many results one branch may choose to open.
	MaxSelections int
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.FetchParallelism <= 0 {
		c.FetchParallelism = 4
	}
	if c.MaxSelections <= 0 {
		c.MaxSelections = 3
	}
	return c
}

// Pipeline is the web search sub-agent.
type Pipeline struct {
	deps    subagent.Deps
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds the web search pipeline.
func New(deps subagent.Deps, fetcher Fetcher, cfg Config) (*Pipeline, error) {
	if fetcher == nil {
		return nil, ErrNoFetcher
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, fetcher: fetcher, cfg: cfg.withDefaults(), logger: logger.Named("websearch")}, nil
}

// branchResult is what the search stage produced for one query.
type branchResult struct {
	unit    subagent.Unit
	results []models.Document
	chosen  []models.Document
}

func (p *Pipeline) Run(ctx context.Context, in subagent.Input) ([]models.IterationAnswer, error) {
	ctx, span := tracer.Start(ctx, "websearch.pipeline")
	span.SetAttributes(attribute.Int("iteration_nr", in.IterationNr))
	defer span.End()

	answers, err := p.run(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return answers, nil
}

func (p *Pipeline) run(ctx context.Context, in subagent.Input) ([]models.IterationAnswer, error) {
	units := subagent.Branch(in.Queries, capability.PathWebSearch.ParallelismCap(p.deps.Parallelism))
	if len(units) == 0 {
		return nil, errors.New("web_search: no queries to branch on")
	}
	if err := p.deps.Emitter.Emit(ctx, in.Step, stream.SearchToolStart(true)); err != nil {
		return nil, err
	}

	searched, err := p.search(ctx, in, units)
	if err != nil {
		return nil, err
	}
	var choices []Choice
	for _, r := range searched {
		for _, d := range r.chosen {
			choices = append(choices, Choice{Question: r.unit.Query, Document: d})
		}
	}
	plan := Dedup(choices)

	fetched, err := p.fetch(ctx, plan.Documents)
	if err != nil {
		return nil, err
	}
	pool := collect(fetched)

	summarized, err := subagent.FanOut(ctx, capability.PathWebSearch, units, len(units),
		func(ctx context.Context, u subagent.Unit) (models.IterationAnswer, error) {
			docs := make([]models.Document, 0, len(plan.QuestionURLs[u.Query]))
			for _, url := range plan.QuestionURLs[u.Query] {
				if d, ok := pool[url]; ok {
					docs = append(docs, d)
				}
			}
			return p.summarize(ctx, in, u, docs)
		})
	if err != nil {
		return nil, err
	}
	answers, err := subagent.Reduce(ctx, p.deps.Emitter, in.Step, in.IterationNr, summarized)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("web iteration reduced",
		zap.Int("iteration_nr", in.IterationNr),
		zap.Int("queries", len(units)),
		zap.Int("unique_urls", len(plan.Documents)),
		zap.Int("answers", len(answers)))
	return answers, nil
}

// search runs one search per unit and asks the model which results to open.
func (p *Pipeline) search(ctx context.Context, in subagent.Input, units []subagent.Unit) ([]branchResult, error) {
	out := make([]branchResult, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(units))
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			started := time.Now()
			r, err := p.searchOne(gctx, in, u)
			telemetry.ObserveBranch(string(capability.PathWebSearch), started, err)
			if err != nil {
				return &subagent.BranchError{Tool: in.Tool.Name, Branch: u.ParallelizationNr, Err: err}
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) searchOne(ctx context.Context, in subagent.Input, u subagent.Unit) (branchResult, error) {
	args := map[string]any{"query": u.Query}
	if p.deps.Registry != nil {
		if err := p.deps.Registry.ValidateArguments(in.Tool.Name, args); err != nil {
			return branchResult{}, err
		}
	}
	resp, ok, err := capability.Final(in.Tool.Capability.Execute(ctx, args), nil)
	if err != nil {
		return branchResult{}, err
	}
	if !ok {
		return branchResult{}, subagent.ErrNoToolResponse
	}
	results := resp.Documents
	if err := p.deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr,
		stream.SearchToolDelta([]string{u.Query}, results)); err != nil {
		return branchResult{}, err
	}
	r := branchResult{unit: u, results: results}
	if len(results) == 0 {
		return r, nil
	}

	var sel selection
	err = provider.InvokeStructured(ctx, p.deps.LLM, provider.Request{
		System:  selectionSystem,
		Prompt:  selectionPrompt(in.Question, u.Query, results, p.cfg.MaxSelections),
		Schema:  selectionSchema,
		Timeout: p.deps.LLMTimeout,
	}, &sel)
	if err != nil {
		return branchResult{}, fmt.Errorf("select results for %q: %w", u.Query, err)
	}
	seen := make(map[int]bool)
	for _, idx := range sel.Indices {
		if idx < 1 || idx > len(results) || seen[idx] {
			continue
		}
		seen[idx] = true
		r.chosen = append(r.chosen, results[idx-1])
		if len(r.chosen) == p.cfg.MaxSelections {
			break
		}
	}
	return r, nil
}

// fetch retrieves each unique page once. A page that cannot be fetched keeps
// its search snippet so the question that chose it still has evidence.
func (p *Pipeline) fetch(ctx context.Context, docs []models.Document) ([]models.Document, error) {
	out := make([]models.Document, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FetchParallelism)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			page, err := p.fetcher.Fetch(gctx, d.URL)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.Warn("fetch failed; keeping snippet", zap.String("url", d.URL), zap.Error(err))
				out[i] = d
				return nil
			}
			out[i] = merge(d, page, p.cfg.MaxChars)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// merge overlays the fetched page onto its search result.
func merge(result, page models.Document, maxChars int) models.Document {
	d := result
	d.Source = models.SourceWeb
	if page.Title != "" {
		d.Title = page.Title
	}
	if page.PublishedAt != nil {
		d.PublishedAt = page.PublishedAt
	}
	d.Content = helpers.Truncate(strings.TrimSpace(page.Content), maxChars)
	if len(page.Metadata) > 0 {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string, len(page.Metadata))
		}
		for k, v := range page.Metadata {
			d.Metadata[k] = v
		}
	}
	return d
}

// collect keys the fetched pages by URL.
func collect(docs []models.Document) map[string]models.Document {
	pool := make(map[string]models.Document, len(docs))
	for _, d := range docs {
		pool[d.URL] = d
	}
	return pool
}

// summarize answers one question from its chosen pages. Only deep research
// spends a model call here; other modes cite every page in order.
func (p *Pipeline) summarize(ctx context.Context, in subagent.Input, u subagent.Unit, docs []models.Document) (models.IterationAnswer, error) {
	if in.Mode == models.ModeDeep || len(docs) == 0 {
		ans, err := subagent.AnswerFromDocuments(ctx, p.deps, in, u, docs)
		if err != nil {
			return models.IterationAnswer{}, err
		}
		ans.ResponseType = "web_search"
		return ans, nil
	}

	ans := subagent.NewAnswer(in, u)
	var b strings.Builder
	for i, d := range docs {
		n := i + 1
		ans.CitedDocuments[n] = d
		text := d.Snippet
		if text == "" {
			text = d.Content
		}
		fmt.Fprintf(&b, "%s: %s [%d]\n", strings.TrimSpace(d.Title), helpers.PromptText(text, 400), n)
	}
	ans.Answer = strings.TrimSpace(b.String())
	ans.Reasoning = fmt.Sprintf("Cited %d fetched pages for %q.", len(docs), u.Query)
	ans.ResponseType = "web_search"
	return ans, nil
}
