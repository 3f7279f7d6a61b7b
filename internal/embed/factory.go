package embed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MacroAcon/tavren/internal/config"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *slog.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "static":
		return NewStaticProvider(cfg.Dimensions), nil
	case "http", "ollama":
		format := FormatOpenAI
		if strings.EqualFold(cfg.Provider, "ollama") {
			format = FormatOllama
		}
		return NewHTTPProvider(HTTPConfig{
			Endpoint:          cfg.Endpoint,
			Model:             cfg.Model,
			Format:            format,
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			Dimensions:        cfg.Dimensions,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			Logger:            logger,
		})
	default:
		return nil, terrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil)
	}
}
