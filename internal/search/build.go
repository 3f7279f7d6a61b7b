package search

import (
	"log/slog"

	"github.com/MacroAcon/tavren/internal/assemble"
	"github.com/MacroAcon/tavren/internal/cache"
	"github.com/MacroAcon/tavren/internal/config"
	"github.com/MacroAcon/tavren/internal/keyword"
	"github.com/MacroAcon/tavren/internal/store"
	"github.com/MacroAcon/tavren/internal/telemetry"
	"github.com/MacroAcon/tavren/internal/textgen"
)

// Dependencies are the collaborators a Service is built on.
type Dependencies struct {
	Store    store.Store
	Embedder Embedder
	// Variants generates expansion phrasings. Nil disables expansion.
	Variants textgen.Provider
	// Packages resolves context headers. Nil renders package ids.
	Packages assemble.PackageLookup
	Metrics  *telemetry.QueryMetrics
	Logger   *slog.Logger
}

// Build wires the engines and the Service from configuration.
func Build(cfg *config.Config, deps Dependencies) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	analyzer, err := keyword.NewAnalyzer(cfg.Search.KeywordAnalyzer)
	if err != nil {
		return nil, err
	}
	measure, err := keyword.ParseMeasure(cfg.Search.KeywordMeasure)
	if err != nil {
		return nil, err
	}

	hybrid := NewHybridScorer(deps.Store, deps.Embedder, keyword.NewScorer(analyzer, measure),
		WithOversampling(cfg.Search.OversamplingFactor),
		WithHybridLogger(logger))

	assemblerOpts := []assemble.Option{
		assemble.WithEstimator(assemble.CharEstimator{CharsPerToken: cfg.Context.CharsPerToken}),
		assemble.WithLogger(logger),
	}
	if deps.Packages != nil {
		assemblerOpts = append(assemblerOpts, assemble.WithPackageLookup(deps.Packages))
	}

	engines := Engines{
		Hybrid: hybrid,
		Expansion: NewExpansionEngine(hybrid, deps.Variants,
			WithBoostFactor(cfg.Search.BoostFactor),
			WithExpansionWeights(cfg.Search.SemanticWeight, cfg.Search.KeywordWeight),
			WithExpansionLogger(logger)),
		Faceted: NewFacetedEngine(hybrid,
			WithFacetInfluence(cfg.Search.FacetInfluence),
			WithKnownFacets(cfg.Search.KnownFacets),
			WithFacetedWeights(cfg.Search.SemanticWeight, cfg.Search.KeywordWeight),
			WithFacetedLogger(logger)),
		Assembler: assemble.New(assemblerOpts...),
	}

	opts := []ServiceOption{WithServiceLogger(logger), WithMetrics(deps.Metrics)}
	if cfg.Search.CacheTTL > 0 {
		results, err := cache.New[[]RankedResult]("search_results", cfg.Search.CacheSize, cfg.Search.CacheTTL,
			cache.WithComputeTimeout(cfg.Store.Timeout+cfg.Embeddings.Timeout),
			cache.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithResultCache(results))
	}

	return NewService(engines, cfg.Search, cfg.Context, opts...), nil
}
