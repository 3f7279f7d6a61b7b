package embed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MacroAcon/tavren/internal/cache"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Generator is the Embedding Generator: cache lookup, then one provider
// call per content hash. It never retries; callers own retry policy.
type Generator struct {
	provider Provider
	cache    *cache.Cache[[]float32]
	dims     int
	logger   *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorLogger sets the generator logger.
func WithGeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator that enforces the deployment dimension dims.
// The cache's TTL is EMBEDDING_CACHE_TTL.
func NewGenerator(p Provider, c *cache.Cache[[]float32], dims int, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider: p,
		cache:    c,
		dims:     dims,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ContentHash returns the cache key for text embedded as kind by model.
func ContentHash(text string, kind Kind, model string) string {
	return cache.Key("embed", model, string(kind), text)
}

// Embed returns the vector for text. Concurrent calls with identical
// arguments share one provider call. The returned slice is shared with
// the cache and must not be modified.
func (g *Generator) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, terrors.New(terrors.ErrCodeInvalidInput, "cannot embed empty text", nil)
	}

	key := ContentHash(text, kind, g.provider.ModelName())
	return g.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]float32, error) {
		start := time.Now()
		vec, err := g.provider.Embed(ctx, text)
		if err != nil {
			g.logger.Debug("embedding_failed",
				append([]any{
					slog.String("model", g.provider.ModelName()),
					slog.String("kind", string(kind)),
					slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				}, terrors.FormatForLog(err)...)...)
			return nil, err
		}
		if len(vec) != g.dims {
			return nil, terrors.InvalidVectorDimension(g.dims, len(vec)).
				WithDetail("model", g.provider.ModelName())
		}
		g.logger.Debug("embedding_generated",
			slog.String("model", g.provider.ModelName()),
			slog.String("kind", string(kind)),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()))
		return vec, nil
	})
}

// Dimensions returns the deployment dimension.
func (g *Generator) Dimensions() int { return g.dims }

// ModelName returns the provider model identifier.
func (g *Generator) ModelName() string { return g.provider.ModelName() }

// Close closes the provider.
func (g *Generator) Close() error { return g.provider.Close() }
