package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research service and CLI.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// StreamTimeout bounds one streamed research request.
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	// MirrorTTL keeps mirrored packet streams in redis after a run ends.
	MirrorTTL time.Duration `mapstructure:"mirror_ttl"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // openai or gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	ImageModel  string        `mapstructure:"image_model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	switch strings.ToLower(l.Provider) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", l.Provider)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}
	return nil
}

// ResearchConfig tunes the research loop.
type ResearchConfig struct {
	DefaultMode           string             `mapstructure:"default_mode"`
	ModeBudgets           map[string]float64 `mapstructure:"mode_budgets"`
	ToolCosts             map[string]float64 `mapstructure:"tool_costs"`
	MaxIterations         int                `mapstructure:"max_iterations"`
	MaxUnknownToolRetries int                `mapstructure:"max_unknown_tool_retries"`
	MaxCloserSuggestions  int                `mapstructure:"max_closer_suggestions"`
	MaxDuration           time.Duration      `mapstructure:"max_duration"`
	Parallelism           int                `mapstructure:"parallelism"`
	FetchParallelism      int                `mapstructure:"fetch_parallelism"`
	MaxSelections         int                `mapstructure:"max_selections"`
	FetchMaxChars         int                `mapstructure:"fetch_max_chars"`
	ClarificationEnabled  bool               `mapstructure:"clarification_enabled"`
	RequiredTools         []string           `mapstructure:"required_tools"`
}

func (r ResearchConfig) Validate() error {
	switch r.DefaultMode {
	case "fast", "thoughtful", "deep":
	default:
		return fmt.Errorf("research.default_mode must be fast, thoughtful or deep, got %q", r.DefaultMode)
	}
	for mode, v := range r.ModeBudgets {
		if v <= 0 {
			return fmt.Errorf("research.mode_budgets.%s must be positive", mode)
		}
	}
	for path, v := range r.ToolCosts {
		if v < 0 {
			return fmt.Errorf("research.tool_costs.%s cannot be negative", path)
		}
	}
	if r.MaxIterations <= 0 {
		return fmt.Errorf("research.max_iterations must be positive")
	}
	if r.MaxUnknownToolRetries < 0 || r.MaxCloserSuggestions < 0 {
		return fmt.Errorf("research retry and suggestion caps cannot be negative")
	}
	if r.Parallelism <= 0 || r.FetchParallelism <= 0 {
		return fmt.Errorf("research parallelism values must be positive")
	}
	return nil
}

// SourcesConfig configures the web search and fetch providers.
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig contains web search settings. An empty provider disables
// web search.
type WebSearchConfig struct {
	Provider      string        `mapstructure:"provider"`
	BraveAPIKey   string        `mapstructure:"brave_api_key"`
	SerperAPIKey  string        `mapstructure:"serper_api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Retries       int           `mapstructure:"retries"`
}

// APIKey returns the key of the selected provider.
func (w WebSearchConfig) APIKey() string {
	if strings.EqualFold(w.Provider, "brave") {
		return w.BraveAPIKey
	}
	return w.SerperAPIKey
}

func (w WebSearchConfig) Validate() error {
	switch strings.ToLower(w.Provider) {
	case "":
		return nil
	case "brave", "serper":
	default:
		return fmt.Errorf("sources.web_search.provider must be brave or serper, got %q", w.Provider)
	}
	if w.RatePerSecond < 0 {
		return fmt.Errorf("sources.web_search.rate_per_second cannot be negative")
	}
	return nil
}

// WebFetchConfig configures page fetching and its redis cache.
type WebFetchConfig struct {
	Fetcher      string        `mapstructure:"fetcher"` // http or chromedp
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

func (w WebFetchConfig) Validate() error {
	switch w.Fetcher {
	case "http", "chromedp":
		return nil
	default:
		return fmt.Errorf("sources.web_fetch.fetcher must be http or chromedp, got %q", w.Fetcher)
	}
}

// ToolsConfig enables the non-web tools.
type ToolsConfig struct {
	InternalCorpusDir  string            `mapstructure:"internal_corpus_dir"`
	KnowledgeGraphFile string            `mapstructure:"knowledge_graph_file"`
	ImageGeneration    bool              `mapstructure:"image_generation"`
	OpenURL            bool              `mapstructure:"open_url"`
	CustomToolsFile    string            `mapstructure:"custom_tools_file"`
	MCPServers         []MCPServerConfig `mapstructure:"mcp_servers"`
}

// MCPServerConfig launches one stdio MCP server.
type MCPServerConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

func (t ToolsConfig) Validate() error {
	seen := map[string]bool{}
	for _, s := range t.MCPServers {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("tools.mcp_servers entries need name and command")
		}
		if seen[s.Name] {
			return fmt.Errorf("tools.mcp_servers: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. An empty host disables
// packet mirroring and the fetch cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if r.Enabled() && strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings. Persistence is
// disabled when neither url nor host is set.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN returns the url, or one assembled from the parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (t TelemetryConfig) Validate() error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.stream_timeout", 10*time.Minute)
	v.SetDefault("server.mirror_ttl", 24*time.Hour)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("research.default_mode", "fast")
	v.SetDefault("research.max_iterations", 12)
	v.SetDefault("research.max_unknown_tool_retries", 3)
	v.SetDefault("research.max_closer_suggestions", 1)
	v.SetDefault("research.parallelism", 4)
	v.SetDefault("research.fetch_parallelism", 4)
	v.SetDefault("research.max_selections", 3)
	v.SetDefault("research.fetch_max_chars", 10000)
	v.SetDefault("sources.web_search.max_results", 8)
	v.SetDefault("sources.web_search.timeout", 15*time.Second)
	v.SetDefault("sources.web_search.rate_per_second", 2.0)
	v.SetDefault("sources.web_search.retries", 2)
	v.SetDefault("sources.web_fetch.fetcher", "http")
	v.SetDefault("tools.open_url", true)
	v.SetDefault("sources.web_fetch.timeout", 15*time.Second)
	v.SetDefault("sources.web_fetch.cache_enabled", true)
	v.SetDefault("sources.web_fetch.cache_ttl", 6*time.Hour)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
}

// LoadConfig reads config.yaml from path (a file or a directory), falling
// back to . and ./config. DEEPRESEARCH_* environment variables override file
// values, with "." in keys written as "_". A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	switch {
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		v.SetConfigFile(path)
	case path != "":
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize lowercases enum-like values.
func (c *Config) Normalize() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Research.DefaultMode = strings.ToLower(strings.TrimSpace(c.Research.DefaultMode))
	c.Sources.WebSearch.Provider = strings.ToLower(strings.TrimSpace(c.Sources.WebSearch.Provider))
	c.Sources.WebFetch.Fetcher = strings.ToLower(strings.TrimSpace(c.Sources.WebFetch.Fetcher))
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.LLM, c.Research, c.Sources.WebSearch, c.Sources.WebFetch,
		c.Tools, c.Storage.Redis, c.Storage.Postgres, c.Telemetry,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
