package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MacroAcon/tavren/internal/config"
)

func TestProjectConfigTemplate_MatchesDefaults(t *testing.T) {
	cfg := config.NewConfig()
	require.NoError(t, yaml.Unmarshal([]byte(ProjectConfigTemplate), cfg))
	require.NoError(t, cfg.Validate())

	defaults := config.NewConfig()
	assert.Equal(t, defaults.Search, cfg.Search)
	assert.Equal(t, defaults.Context, cfg.Context)
	assert.Equal(t, defaults.Embeddings, cfg.Embeddings)
	assert.Equal(t, defaults.Store.Path, cfg.Store.Path)
}
