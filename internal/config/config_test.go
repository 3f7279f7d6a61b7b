package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
	assert.Equal(t, 24*time.Hour, cfg.Embeddings.CacheTTL)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, 3, cfg.Search.OversamplingFactor)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.15, cfg.Search.BoostFactor)
	assert.Equal(t, 0.4, cfg.Search.FacetInfluence)
	assert.Equal(t, 5*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, 4, cfg.Context.CharsPerToken)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
}

func TestLoad_ProjectOverridesUserConfig(t *testing.T) {
	// Given: a user config and a project config that disagree
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "tavren", "config.yaml"), `
search:
  default_top_k: 7
  semantic_weight: 0.5
embeddings:
  dimensions: 768
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
search:
  default_top_k: 12
`)

	// When: loading
	cfg, err := Load(dir)

	// Then: project wins where both set a key, user config fills the rest
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Search.DefaultTopK)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
	assert.Equal(t, 768, cfg.Embeddings.Dimensions)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
}

func TestLoad_ExplicitZeroWeightIsHonoured(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigName), "search:\n  keyword_weight: 0\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Search.KeywordWeight)
}

func TestLoad_ParsesDurationsAndLists(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
embeddings:
  cache_ttl: 2h
search:
  cache_ttl: 30s
  known_facets: [type, source, region]
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Embeddings.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Search.CacheTTL)
	assert.Equal(t, []string{"type", "source", "region"}, cfg.Search.KnownFacets)
}

func TestLoad_EnvOverridesEverything(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigName), "search:\n  semantic_weight: 0.2\n")
	t.Setenv("TAVREN_SEMANTIC_WEIGHT", "0.9")
	t.Setenv("TAVREN_SEARCH_CACHE_TTL", "1m")
	t.Setenv("TAVREN_STORE_BACKEND", "qdrant")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.SemanticWeight)
	assert.Equal(t, time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "qdrant", cfg.Store.Backend)
}

func TestLoad_MalformedEnvIsConfigError(t *testing.T) {
	dir := isolate(t)
	t.Setenv("TAVREN_DEFAULT_TOP_K", "ten")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, terrors.KindInvalidConfig, terrors.GetKind(err))
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, ProjectConfigName), "search: [unclosed\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, terrors.ErrCodeConfigInvalid, terrors.GetCode(err))
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		kind   terrors.Kind
	}{
		{"semantic weight above one", func(c *Config) { c.Search.SemanticWeight = 1.2 }, terrors.KindInvalidWeight},
		{"negative keyword weight", func(c *Config) { c.Search.KeywordWeight = -0.1 }, terrors.KindInvalidWeight},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimensions = 0 }, terrors.KindInvalidConfig},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "magic" }, terrors.KindInvalidConfig},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, terrors.KindInvalidConfig},
		{"oversampling below one", func(c *Config) { c.Search.OversamplingFactor = 0 }, terrors.KindInvalidConfig},
		{"zero chars per token", func(c *Config) { c.Context.CharsPerToken = 0 }, terrors.KindInvalidConfig},
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }, terrors.KindInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Equal(t, tt.kind, terrors.GetKind(err))
		})
	}
}

func TestValidate_WeightsNeedNotSumToOne(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.SemanticWeight = 1
	cfg.Search.KeywordWeight = 1

	assert.NoError(t, cfg.Validate())
}
