package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider/providertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestNewEngineConfig(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Research.DefaultMode = "deep"
	cfg.Research.ModeBudgets = map[string]float64{"deep": 30}
	cfg.Research.MaxDuration = time.Minute

	ec, err := NewEngineConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, models.ModeDeep, ec.DefaultMode)
	assert.Equal(t, 30.0, ec.Budget.ModeBudgets[models.ModeDeep])
	require.NotNil(t, ec.Budget.MaxDuration)
	assert.Equal(t, time.Minute, *ec.Budget.MaxDuration)
	assert.Equal(t, 12, *ec.Budget.MaxIterations)
	assert.Equal(t, 10000, ec.Web.MaxChars)

	cfg.Research.ModeBudgets = map[string]float64{"fast": 50, "deep": 10}
	_, err = NewEngineConfig(cfg)
	require.Error(t, err)
}

func TestNewToolCosts(t *testing.T) {
	costs, required, err := NewToolCosts(config.ResearchConfig{
		ToolCosts:     map[string]float64{"web_search": 3},
		RequiredTools: []string{"internal_search"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, costs[capability.PathWebSearch])
	assert.Equal(t, []capability.Path{capability.PathInternalSearch}, required)

	_, _, err = NewToolCosts(config.ResearchConfig{ToolCosts: map[string]float64{"closer": 1}})
	require.ErrorIs(t, err, capability.ErrUnknownPath)
}

func TestNewToolSpecsFromFiles(t *testing.T) {
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	require.NoError(t, os.Mkdir(corpus, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "handbook.md"), []byte("# Handbook\n\nVacation policy is 25 days."), 0o644))
	graph := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graph, []byte(`
entities:
  - {id: acme, name: Acme, type: company, description: Makes anvils}
relations: []
`), 0o644))

	cfg := baseConfig(t)
	cfg.Tools.InternalCorpusDir = corpus
	cfg.Tools.KnowledgeGraphFile = graph
	cfg.Sources.WebSearch.Provider = "serper"

	fetcher, err := NewFetcher(cfg.Sources.WebFetch, 1000, nil, zap.NewNop())
	require.NoError(t, err)
	set, err := NewToolSpecs(context.Background(), cfg, providertest.New(), fetcher, zap.NewNop())
	require.NoError(t, err)
	defer set.Close()

	var paths []capability.Path
	for _, s := range set.Specs {
		paths = append(paths, s.Path)
	}
	assert.ElementsMatch(t, []capability.Path{
		capability.PathInternalSearch,
		capability.PathWebSearch,
		capability.PathKnowledgeGraph,
		capability.PathGenericInternalTool,
	}, paths)
}

func TestNewToolSpecsImageGenerationNeedsGenerator(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Tools.ImageGeneration = true
	_, err := NewToolSpecs(context.Background(), cfg, providertest.New(), nil, zap.NewNop())
	require.Error(t, err)
}

func TestNewRuntimeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.LLM.APIKey = "test"
	cfg.Storage.Redis.Host = mr.Host()
	cfg.Storage.Redis.Port = mr.Port()

	rt, err := NewRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, rt.Redis)
	assert.Nil(t, rt.Store)
	tools, err := rt.Engine.Tools()
	require.NoError(t, err)
	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name)
	}
	assert.Contains(t, names, "open_url")
}

func TestNewRuntimeUnknownProvider(t *testing.T) {
	cfg := baseConfig(t)
	cfg.LLM.Provider = "claude"
	_, err := NewRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestNewLLMProvider(t *testing.T) {
	llm, err := NewLLMProvider(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", llm.Name())
	assert.True(t, llm.SupportsToolCalling())

	_, err = NewLLMProvider(context.Background(), config.LLMConfig{Provider: "gemini"}, zap.NewNop())
	require.Error(t, err)
}

func TestNewRuntimeUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.LLM.APIKey = "test"
	cfg.Storage.Redis.Host = mr.Host()
	cfg.Storage.Redis.Port = mr.Port()
	mr.Close()

	rt, err := NewRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, rt)
}

func TestRuntimeCloseNil(t *testing.T) {
	var rt *Runtime
	require.NoError(t, rt.Close())
	require.NoError(t, (&Runtime{}).Close())
}
