// Package config loads the immutable process configuration for the retrieval engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// ProjectConfigName is the per-deployment config file looked up in the working directory.
const ProjectConfigName = ".tavren.yaml"

// Config is the complete engine configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	TextGen    TextGenConfig    `yaml:"textgen" json:"textgen"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Context    ContextConfig    `yaml:"context" json:"context"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// EmbeddingsConfig configures the embedding provider and its cache.
type EmbeddingsConfig struct {
	// Provider is "http" (OpenAI-compatible), "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Dimensions is the deployment-wide vector length.
	Dimensions        int           `yaml:"dimensions" json:"dimensions"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	// CacheTTL is EMBEDDING_CACHE_TTL.
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheSize int           `yaml:"cache_size" json:"cache_size"`
}

// TextGenConfig configures the query variant generator.
type TextGenConfig struct {
	// Provider is "ollama", "static" or "none".
	Provider string        `yaml:"provider" json:"provider"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// StoreConfig configures the embedding store backend.
type StoreConfig struct {
	// Backend is "sqlite" or "qdrant".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
	// VectorIndex is "exact" or "hnsw" (sqlite backend only).
	VectorIndex      string        `yaml:"vector_index" json:"vector_index"`
	QdrantHost       string        `yaml:"qdrant_host" json:"qdrant_host"`
	QdrantPort       int           `yaml:"qdrant_port" json:"qdrant_port"`
	QdrantCollection string        `yaml:"qdrant_collection" json:"qdrant_collection"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures ranking defaults.
type SearchConfig struct {
	DefaultTopK        int      `yaml:"default_top_k" json:"default_top_k"`
	OversamplingFactor int      `yaml:"oversampling_factor" json:"oversampling_factor"`
	SemanticWeight     float64  `yaml:"semantic_weight" json:"semantic_weight"`
	KeywordWeight      float64  `yaml:"keyword_weight" json:"keyword_weight"`
	BoostFactor        float64  `yaml:"boost_factor" json:"boost_factor"`
	MaxExpansions      int      `yaml:"max_expansions" json:"max_expansions"`
	FacetInfluence     float64  `yaml:"facet_influence" json:"facet_influence"`
	KnownFacets        []string `yaml:"known_facets" json:"known_facets"`
	// CacheTTL is SEARCH_CACHE_TTL. Zero disables result caching.
	CacheTTL        time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	CacheSize       int           `yaml:"cache_size" json:"cache_size"`
	KeywordAnalyzer string        `yaml:"keyword_analyzer" json:"keyword_analyzer"`
	KeywordMeasure  string        `yaml:"keyword_measure" json:"keyword_measure"`
}

// ContextConfig configures cross-package context assembly defaults.
type ContextConfig struct {
	MaxPackages        int `yaml:"max_packages" json:"max_packages"`
	MaxItemsPerPackage int `yaml:"max_items_per_package" json:"max_items_per_package"`
	MaxTokens          int `yaml:"max_tokens" json:"max_tokens"`
	CharsPerToken      int `yaml:"chars_per_token" json:"chars_per_token"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures tracing and query metrics.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP gRPC endpoint. Empty disables tracing export.
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
	Metrics      bool    `yaml:"metrics" json:"metrics"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Embeddings: EmbeddingsConfig{
			Provider:          "static",
			Endpoint:          "http://localhost:11434",
			Model:             "nomic-embed-text",
			APIKeyEnv:         "TAVREN_EMBEDDINGS_API_KEY",
			Dimensions:        384,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             5,
			CacheTTL:          24 * time.Hour,
			CacheSize:         10000,
		},
		TextGen: TextGenConfig{
			Provider: "static",
			Endpoint: "http://localhost:11434",
			Model:    "llama3.2",
			Timeout:  10 * time.Second,
		},
		Store: StoreConfig{
			Backend:          "sqlite",
			Path:             filepath.Join(DefaultDataDir(), "embeddings.db"),
			VectorIndex:      "exact",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "tavren_embeddings",
			Timeout:          5 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK:        10,
			OversamplingFactor: 3,
			SemanticWeight:     0.7,
			KeywordWeight:      0.3,
			BoostFactor:        0.15,
			MaxExpansions:      3,
			FacetInfluence:     0.4,
			CacheTTL:           5 * time.Minute,
			CacheSize:          1000,
			KeywordAnalyzer:    "english",
			KeywordMeasure:     "coverage",
		},
		Context: ContextConfig{
			MaxPackages:        5,
			MaxItemsPerPackage: 3,
			MaxTokens:          2000,
			CharsPerToken:      4,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			SampleRate: 1.0,
			Metrics:    true,
		},
	}
}

// DefaultDataDir returns ~/.tavren, falling back to the temp directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".tavren")
	}
	return filepath.Join(home, ".tavren")
}

// GetUserConfigPath returns the user configuration file path.
// It honours XDG_CONFIG_HOME and defaults to ~/.config/tavren/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tavren", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "tavren", "config.yaml")
	}
	return filepath.Join(home, ".config", "tavren", "config.yaml")
}

// Load builds the configuration for dir. Sources in increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/tavren/config.yaml)
//  3. Project config (.tavren.yaml in dir)
//  4. Environment variables (TAVREN_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.mergeFile(GetUserConfigPath()); err != nil {
		return nil, err
	}
	if err := cfg.mergeFile(filepath.Join(dir, ProjectConfigName)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes a YAML file over c. Keys absent from the file keep
// their current values, so explicit zeros are honoured. Missing files are fine.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return terrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return terrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithSuggestion("Check the YAML syntax and value types")
	}
	return nil
}

// envOverride binds a TAVREN_* variable to a setter.
type envOverride struct {
	name string
	set  func(string) error
}

func (c *Config) envOverrides() []envOverride {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	float := func(dst *float64) func(string) error {
		return func(v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return err
			}
			*dst = f
			return nil
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	return []envOverride{
		{"TAVREN_EMBEDDINGS_PROVIDER", str(&c.Embeddings.Provider)},
		{"TAVREN_EMBEDDINGS_ENDPOINT", str(&c.Embeddings.Endpoint)},
		{"TAVREN_EMBEDDINGS_MODEL", str(&c.Embeddings.Model)},
		{"TAVREN_EMBEDDING_DIMENSIONS", integer(&c.Embeddings.Dimensions)},
		{"TAVREN_EMBEDDING_CACHE_TTL", duration(&c.Embeddings.CacheTTL)},
		{"TAVREN_TEXTGEN_PROVIDER", str(&c.TextGen.Provider)},
		{"TAVREN_TEXTGEN_ENDPOINT", str(&c.TextGen.Endpoint)},
		{"TAVREN_TEXTGEN_MODEL", str(&c.TextGen.Model)},
		{"TAVREN_STORE_BACKEND", str(&c.Store.Backend)},
		{"TAVREN_STORE_PATH", str(&c.Store.Path)},
		{"TAVREN_QDRANT_HOST", str(&c.Store.QdrantHost)},
		{"TAVREN_QDRANT_PORT", integer(&c.Store.QdrantPort)},
		{"TAVREN_DEFAULT_TOP_K", integer(&c.Search.DefaultTopK)},
		{"TAVREN_SEMANTIC_WEIGHT", float(&c.Search.SemanticWeight)},
		{"TAVREN_KEYWORD_WEIGHT", float(&c.Search.KeywordWeight)},
		{"TAVREN_SEARCH_CACHE_TTL", duration(&c.Search.CacheTTL)},
		{"TAVREN_LOG_LEVEL", str(&c.Server.LogLevel)},
		{"TAVREN_TRANSPORT", str(&c.Server.Transport)},
		{"TAVREN_OTLP_ENDPOINT", str(&c.Telemetry.OTLPEndpoint)},
	}
}

// applyEnvOverrides applies TAVREN_* environment variables. A malformed
// value is a configuration error rather than a silent fallback.
func (c *Config) applyEnvOverrides() error {
	for _, o := range c.envOverrides() {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if err := o.set(v); err != nil {
			return terrors.ConfigError(fmt.Sprintf("invalid value for %s: %q", o.name, v), err)
		}
	}
	return nil
}

// Validate checks the configuration for out-of-range and unknown values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return terrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if c.Embeddings.Dimensions <= 0 {
		return invalid("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if !oneOf(c.Embeddings.Provider, "http", "ollama", "static") {
		return invalid("embeddings.provider must be 'http', 'ollama' or 'static', got %q", c.Embeddings.Provider)
	}
	if !oneOf(c.TextGen.Provider, "ollama", "static", "none") {
		return invalid("textgen.provider must be 'ollama', 'static' or 'none', got %q", c.TextGen.Provider)
	}
	if !oneOf(c.Store.Backend, "sqlite", "qdrant") {
		return invalid("store.backend must be 'sqlite' or 'qdrant', got %q", c.Store.Backend)
	}
	if !oneOf(c.Store.VectorIndex, "exact", "hnsw") {
		return invalid("store.vector_index must be 'exact' or 'hnsw', got %q", c.Store.VectorIndex)
	}

	for name, w := range map[string]float64{
		"search.semantic_weight": c.Search.SemanticWeight,
		"search.keyword_weight":  c.Search.KeywordWeight,
		"search.facet_influence": c.Search.FacetInfluence,
	} {
		if w < 0 || w > 1 {
			return terrors.InvalidWeight(name, w)
		}
	}
	if c.Search.BoostFactor < 0 {
		return invalid("search.boost_factor must be non-negative, got %g", c.Search.BoostFactor)
	}
	if c.Search.DefaultTopK <= 0 {
		return invalid("search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	if c.Search.OversamplingFactor < 1 {
		return invalid("search.oversampling_factor must be at least 1, got %d", c.Search.OversamplingFactor)
	}
	if c.Search.MaxExpansions < 1 {
		return invalid("search.max_expansions must be at least 1, got %d", c.Search.MaxExpansions)
	}
	if !oneOf(c.Search.KeywordAnalyzer, "english", "simple") {
		return invalid("search.keyword_analyzer must be 'english' or 'simple', got %q", c.Search.KeywordAnalyzer)
	}
	if !oneOf(c.Search.KeywordMeasure, "coverage", "jaccard") {
		return invalid("search.keyword_measure must be 'coverage' or 'jaccard', got %q", c.Search.KeywordMeasure)
	}
	if c.Context.MaxPackages <= 0 || c.Context.MaxItemsPerPackage <= 0 || c.Context.MaxTokens <= 0 {
		return invalid("context limits must be positive")
	}
	if c.Context.CharsPerToken <= 0 {
		return invalid("context.chars_per_token must be positive, got %d", c.Context.CharsPerToken)
	}
	if !oneOf(c.Server.Transport, "stdio", "sse") {
		return invalid("server.transport must be 'stdio' or 'sse', got %q", c.Server.Transport)
	}
	if !oneOf(c.Server.LogLevel, "debug", "info", "warn", "error") {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.Server.LogLevel)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return invalid("telemetry.sample_rate must be within [0, 1], got %g", c.Telemetry.SampleRate)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
