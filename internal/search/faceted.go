package search

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"

	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/store"
)

// DefaultFacetInfluence is the share of the combined score taken by facet matches.
const DefaultFacetInfluence = 0.4

// FacetedParams describes one faceted search. Facets map a facet name to
// its allow-list; empty allow-lists are ignored. FacetWeights default to 1.
type FacetedParams struct {
	Query        string
	Facets       map[string][]string
	FacetWeights map[string]float64
	TopK         int
}

// FacetGroups maps facet name to facet value to the results carrying it.
type FacetGroups map[string]map[string][]RankedResult

// FacetedResult is the flat ranking plus its facet groups.
type FacetedResult struct {
	Results []RankedResult
	Groups  FacetGroups
}

// FacetedEngine re-weights an unfiltered hybrid pool by facet matches.
type FacetedEngine struct {
	hybrid         *HybridScorer
	influence      float64
	semanticWeight float64
	keywordWeight  float64
	known          map[string]struct{}
	logger         *slog.Logger
}

// FacetedOption configures a FacetedEngine.
type FacetedOption func(*FacetedEngine)

// WithFacetInfluence sets the facet share of the combined score.
func WithFacetInfluence(f float64) FacetedOption {
	return func(e *FacetedEngine) { e.influence = f }
}

// WithKnownFacets restricts accepted facet names. An empty list accepts any name.
func WithKnownFacets(names []string) FacetedOption {
	return func(e *FacetedEngine) {
		e.known = make(map[string]struct{}, len(names))
		for _, n := range names {
			e.known[n] = struct{}{}
		}
	}
}

// WithFacetedWeights sets the hybrid weights of the base pool.
func WithFacetedWeights(semantic, keyword float64) FacetedOption {
	return func(e *FacetedEngine) {
		e.semanticWeight = semantic
		e.keywordWeight = keyword
	}
}

// WithFacetedLogger sets the logger.
func WithFacetedLogger(l *slog.Logger) FacetedOption {
	return func(e *FacetedEngine) { e.logger = l }
}

// NewFacetedEngine creates an engine over hybrid.
func NewFacetedEngine(hybrid *HybridScorer, opts ...FacetedOption) *FacetedEngine {
	e := &FacetedEngine{
		hybrid:         hybrid,
		influence:      DefaultFacetInfluence,
		semanticWeight: 0.7,
		keywordWeight:  0.3,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search ranks by base*(1-influence) + facetScore*influence. Records that
// match no facet stay eligible with a facet score of zero.
func (e *FacetedEngine) Search(ctx context.Context, p FacetedParams) (*FacetedResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, emptyQuery()
	}
	if err := validateTopK(p.TopK); err != nil {
		return nil, err
	}
	if err := e.validate(p); err != nil {
		return nil, err
	}

	facets := store.Filter(p.Facets).Active()
	names := slices.Sorted(maps.Keys(facets))

	pool, err := e.hybrid.rank(ctx, HybridParams{
		Query:          p.Query,
		SemanticWeight: e.semanticWeight,
		KeywordWeight:  e.keywordWeight,
		TopK:           p.TopK,
	}, e.hybrid.poolSize(p.TopK))
	if err != nil {
		return nil, err
	}

	var total float64
	for _, name := range names {
		total += facetWeight(p.FacetWeights, name)
	}

	for i := range pool {
		r := &pool[i]
		var matchedWeight float64
		for _, name := range names {
			if len(store.MatchingValues(r.Metadata[name], facets[name])) > 0 {
				r.MatchedFacets++
				matchedWeight += facetWeight(p.FacetWeights, name)
			}
		}
		if total > 0 {
			r.FacetMatchScore = matchedWeight / total
		}
		r.CombinedScore = r.CombinedScore*(1-e.influence) + r.FacetMatchScore*e.influence
	}

	slices.SortStableFunc(pool, func(a, b RankedResult) int {
		if c := cmp.Compare(b.CombinedScore, a.CombinedScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.MatchedFacets, a.MatchedFacets); c != 0 {
			return c
		}
		return cmp.Compare(a.EmbeddingRecordID, b.EmbeddingRecordID)
	})
	results := truncate(pool, p.TopK)

	e.logger.Debug("faceted_ranked",
		slog.Int("facets", len(names)),
		slog.Int("pool", len(pool)),
		slog.Int("results", len(results)))
	return &FacetedResult{Results: results, Groups: groupByFacet(results, facets)}, nil
}

func (e *FacetedEngine) validate(p FacetedParams) error {
	if len(e.known) > 0 {
		for _, name := range slices.Sorted(maps.Keys(p.Facets)) {
			if _, ok := e.known[name]; !ok {
				return terrors.UnknownFacet(name)
			}
		}
		for _, name := range slices.Sorted(maps.Keys(p.FacetWeights)) {
			if _, ok := e.known[name]; !ok {
				return terrors.UnknownFacet(name)
			}
		}
	}
	for name, w := range p.FacetWeights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return terrors.InvalidWeight("facet_weights."+name, w)
		}
	}
	return nil
}

func facetWeight(weights map[string]float64, name string) float64 {
	if w, ok := weights[name]; ok {
		return w
	}
	return 1
}

// groupByFacet places each result under every allowed value it carries.
// A result with several matching values for one facet appears under each.
func groupByFacet(results []RankedResult, facets store.Filter) FacetGroups {
	groups := make(FacetGroups, len(facets))
	for name, allowed := range facets {
		byValue := make(map[string][]RankedResult)
		for _, r := range results {
			for _, v := range store.MatchingValues(r.Metadata[name], allowed) {
				byValue[v] = append(byValue[v], r)
			}
		}
		groups[name] = byValue
	}
	return groups
}
