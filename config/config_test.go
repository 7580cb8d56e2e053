package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "fast", cfg.Research.DefaultMode)
	assert.Equal(t, 12, cfg.Research.MaxIterations)
	assert.Equal(t, 3, cfg.Research.MaxUnknownToolRetries)
	assert.Equal(t, 10000, cfg.Research.FetchMaxChars)
	assert.Equal(t, "http", cfg.Sources.WebFetch.Fetcher)
	assert.False(t, cfg.Storage.Redis.Enabled())
	assert.False(t, cfg.Storage.Postgres.Enabled())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	body := `
llm:
  provider: Gemini
  model: gemini-2.0-flash
research:
  default_mode: deep
  mode_budgets: {deep: 20}
  tool_costs: {web_search: 2.5}
  clarification_enabled: true
sources:
  web_search:
    provider: brave
    brave_api_key: bk
tools:
  mcp_servers:
    - name: files
      command: mcp-files
      args: [--root, /data]
storage:
  postgres:
    host: db
    user: app
    password: p@ss
    dbname: research
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	t.Setenv("DEEPRESEARCH_LLM_MODEL", "gemini-2.5-pro")
	t.Setenv("DEEPRESEARCH_RESEARCH_PARALLELISM", "2")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Research.Parallelism)
	assert.Equal(t, 20.0, cfg.Research.ModeBudgets["deep"])
	assert.Equal(t, 2.5, cfg.Research.ToolCosts["web_search"])
	assert.True(t, cfg.Research.ClarificationEnabled)
	assert.Equal(t, "bk", cfg.Sources.WebSearch.APIKey())
	require.Len(t, cfg.Tools.MCPServers, 1)
	assert.Equal(t, []string{"--root", "/data"}, cfg.Tools.MCPServers[0].Args)
	assert.Equal(t, "postgres://app:p%40ss@db:5432/research?sslmode=disable", cfg.Storage.Postgres.DSN())
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"provider":  "llm: {provider: claude}",
		"mode":      "research: {default_mode: slow}",
		"budget":    "research: {mode_budgets: {fast: 0}}",
		"fetcher":   "sources: {web_fetch: {fetcher: curl}}",
		"mcp":       "tools: {mcp_servers: [{name: a}]}",
		"telemetry": "telemetry: {sample_ratio: 2}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}
