package textgen

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MacroAcon/tavren/internal/config"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.TextGenConfig, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "static":
		return NewStaticProvider(), nil
	case "none", "":
		return Noop{}, nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
			Logger:   logger,
		})
	default:
		return nil, terrors.ConfigError(fmt.Sprintf("unknown textgen provider %q", cfg.Provider), nil)
	}
}
