package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/websearch"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/queue/streams"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"github.com/mohammad-safakhou/deepresearch/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/deepresearch/provider/openai"
	"github.com/mohammad-safakhou/deepresearch/tools/custom"
	"github.com/mohammad-safakhou/deepresearch/tools/image_gen"
	"github.com/mohammad-safakhou/deepresearch/tools/kg"
	"github.com/mohammad-safakhou/deepresearch/tools/mcp"
	"github.com/mohammad-safakhou/deepresearch/tools/search"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	"github.com/mohammad-safakhou/deepresearch/tools/web_search"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewLLMProvider creates the model provider named by the configuration.
func NewLLMProvider(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openai_provider.NewOpenAIClient(openai_provider.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			ImageModel:  cfg.ImageModel,
			Temperature: float32(cfg.Temperature),
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		}, logger), nil
	case "gemini":
		return gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
			MaxRetries:  cfg.MaxRetries,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider)
	}
}

// NewEngineConfig converts the research section into an engine Config.
func NewEngineConfig(cfg *config.Config) (Config, error) {
	mode, err := models.ParseMode(cfg.Research.DefaultMode)
	if err != nil {
		return Config{}, err
	}
	b, err := NewBudgetConfig(cfg.Research)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Budget:               b,
		DefaultMode:          mode,
		Parallelism:          cfg.Research.Parallelism,
		LLMTimeout:           cfg.LLM.Timeout,
		ClarificationEnabled: cfg.Research.ClarificationEnabled,
		Web: websearch.Config{
			MaxChars:         cfg.Research.FetchMaxChars,
			FetchParallelism: cfg.Research.FetchParallelism,
			MaxSelections:    cfg.Research.MaxSelections,
		},
	}, nil
}

// NewBudgetConfig converts the research section into budget guardrails.
func NewBudgetConfig(r config.ResearchConfig) (budget.Config, error) {
	out := budget.Config{
		MaxIterations:         &r.MaxIterations,
		MaxUnknownToolRetries: &r.MaxUnknownToolRetries,
		MaxCloserSuggestions:  &r.MaxCloserSuggestions,
	}
	if len(r.ModeBudgets) > 0 {
		out.ModeBudgets = make(map[models.ResearchMode]float64, len(r.ModeBudgets))
		for name, v := range r.ModeBudgets {
			mode, err := models.ParseMode(name)
			if err != nil {
				return budget.Config{}, fmt.Errorf("mode_budgets: %w", err)
			}
			out.ModeBudgets[mode] = v
		}
	}
	if r.MaxDuration > 0 {
		d := r.MaxDuration
		out.MaxDuration = &d
	}
	return out, out.Validate()
}

// NewToolCosts maps configured costs onto tool paths.
func NewToolCosts(r config.ResearchConfig) (map[capability.Path]float64, []capability.Path, error) {
	costs := make(map[capability.Path]float64, len(r.ToolCosts))
	for name, v := range r.ToolCosts {
		p := capability.Path(name)
		if !p.IsToolFamily() {
			return nil, nil, fmt.Errorf("tool_costs: %w: %s", capability.ErrUnknownPath, name)
		}
		costs[p] = v
	}
	var required []capability.Path
	for _, name := range r.RequiredTools {
		p := capability.Path(name)
		if !p.IsToolFamily() {
			return nil, nil, fmt.Errorf("required_tools: %w: %s", capability.ErrUnknownPath, name)
		}
		required = append(required, p)
	}
	return costs, required, nil
}

// NewFetcher builds the page fetcher, cached in redis when a client is given.
func NewFetcher(cfg config.WebFetchConfig, maxChars int, rdb redis.UniversalClient, logger *zap.Logger) (web_fetch.DocFetcher, error) {
	wf, err := web_fetch.NewWebFetcher(web_fetch.Config{
		Type:      web_fetch.FetcherType(cfg.Fetcher),
		Timeout:   cfg.Timeout,
		MaxChars:  maxChars,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	var f web_fetch.DocFetcher = web_fetch.NewDocumentFetcher(wf)
	if rdb != nil && cfg.CacheEnabled {
		f = web_fetch.NewCachedFetcher(f, rdb, cfg.CacheTTL, logger)
	}
	return f, nil
}

// ToolSet is the registered tools plus the resources they hold open.
type ToolSet struct {
	Specs   []capability.Spec
	closers []func() error
}

func (t *ToolSet) Close() error {
	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewToolSpecs builds every tool the configuration enables.
func NewToolSpecs(ctx context.Context, cfg *config.Config, llm provider.Provider, fetcher web_fetch.DocFetcher, logger *zap.Logger) (*ToolSet, error) {
	set := &ToolSet{}
	add := func(p capability.Path, t capability.Tool) {
		set.Specs = append(set.Specs, capability.Spec{Path: p, Capability: t})
	}

	if dir := cfg.Tools.InternalCorpusDir; dir != "" {
		corpus, err := search.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("internal corpus: %w", err)
		}
		logger.Info("internal corpus loaded", zap.String("dir", dir), zap.Int("documents", corpus.Len()))
		add(capability.PathInternalSearch, search.NewSearch(corpus, 0))
	}

	if ws := cfg.Sources.WebSearch; ws.Provider != "" {
		searcher, err := web_search.NewWebSearcher(web_search.Config{
			Provider:      web_search.Provider(ws.Provider),
			APIKey:        ws.APIKey(),
			BaseURL:       ws.BaseURL,
			Timeout:       ws.Timeout,
			Retries:       ws.Retries,
			RatePerSecond: ws.RatePerSecond,
		})
		if err != nil {
			return nil, err
		}
		add(capability.PathWebSearch, web_search.NewTool(searcher, ws.MaxResults, logger))
	}

	if path := cfg.Tools.KnowledgeGraphFile; path != "" {
		g, err := kg.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("knowledge graph: %w", err)
		}
		add(capability.PathKnowledgeGraph, kg.NewTool(g, 0))
	}

	if cfg.Tools.ImageGeneration {
		gen, ok := llm.(image_gen.Generator)
		if !ok {
			return nil, fmt.Errorf("image generation is not supported by provider %s", llm.Name())
		}
		add(capability.PathImageGeneration, image_gen.NewTool(gen, 0))
	}

	if cfg.Tools.OpenURL && fetcher != nil {
		add(capability.PathGenericInternalTool, web_fetch.NewOpenURLTool(fetcher))
	}

	if path := cfg.Tools.CustomToolsFile; path != "" {
		tools, err := custom.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("custom tools: %w", err)
		}
		for _, t := range tools {
			add(capability.PathCustomTool, t)
		}
	}

	for _, sc := range cfg.Tools.MCPServers {
		srv, err := mcp.Connect(ctx, mcp.ServerConfig{Name: sc.Name, Command: sc.Command, Args: sc.Args, Env: sc.Env}, logger)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.closers = append(set.closers, srv.Close)
		for _, t := range srv.Tools() {
			add(capability.PathCustomTool, t)
		}
	}
	return set, nil
}

// NewRedisClient returns nil when redis is not configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Runtime is a configured Engine and everything it holds open.
type Runtime struct {
	Engine *Engine
	// Store and Redis are nil when their section is not configured.
	Store *store.Store
	Redis redis.UniversalClient
	tools *ToolSet
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.tools != nil {
		errs = append(errs, r.tools.Close())
	}
	if r.Store != nil {
		errs = append(errs, r.Store.Close())
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}

// NewRuntime wires the engine from configuration.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	engineCfg, err := NewEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	costs, required, err := NewToolCosts(cfg.Research)
	if err != nil {
		return nil, err
	}
	llm, err := NewLLMProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	if rt.Redis, err = NewRedisClient(ctx, cfg.Storage.Redis); err != nil {
		return nil, err
	}
	if cfg.Storage.Postgres.Enabled() {
		if rt.Store, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN()); err != nil {
			return nil, err
		}
	}

	fetcher, err := NewFetcher(cfg.Sources.WebFetch, cfg.Research.FetchMaxChars, rt.Redis, logger)
	if err != nil {
		return nil, err
	}
	if rt.tools, err = NewToolSpecs(ctx, cfg, llm, fetcher, logger); err != nil {
		return nil, err
	}

	opts := Options{
		Fetcher:  fetcher,
		Logger:   logger,
		Costs:    costs,
		Required: required,
	}
	if rt.Store != nil {
		opts.Persister = rt.Store
	}
	if rt.Redis != nil {
		reg, err := streams.DefaultRegistry()
		if err != nil {
			return nil, err
		}
		opts.Mirror = streams.NewPublisher(rt.Redis, reg).Mirror(cfg.Server.MirrorTTL)
	}

	if rt.Engine, err = NewEngine(engineCfg, llm, rt.tools.Specs, opts); err != nil {
		return nil, err
	}
	return rt, nil
}
