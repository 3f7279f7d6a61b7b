package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MacroAcon/tavren/internal/textgen"
)

// DefaultBoostFactor rewards records found by more than one phrasing.
const DefaultBoostFactor = 0.15

// ExpansionParams describes one query expansion search.
type ExpansionParams struct {
	Query         string
	MaxExpansions int
	TopK          int
}

// ExpansionResult carries the phrasings actually searched, the original
// first, and the merged ranking.
type ExpansionResult struct {
	Queries  []string
	Results  []RankedResult
	Degraded bool
}

// ExpansionEngine searches a query and its generated variants.
type ExpansionEngine struct {
	hybrid         *HybridScorer
	variants       textgen.Provider
	boost          float64
	semanticWeight float64
	keywordWeight  float64
	logger         *slog.Logger
}

// ExpansionOption configures an ExpansionEngine.
type ExpansionOption func(*ExpansionEngine)

// WithBoostFactor sets the multi-phrasing boost.
func WithBoostFactor(f float64) ExpansionOption {
	return func(e *ExpansionEngine) { e.boost = f }
}

// WithExpansionWeights sets the hybrid weights used for every phrasing.
func WithExpansionWeights(semantic, keyword float64) ExpansionOption {
	return func(e *ExpansionEngine) {
		e.semanticWeight = semantic
		e.keywordWeight = keyword
	}
}

// WithExpansionLogger sets the logger.
func WithExpansionLogger(l *slog.Logger) ExpansionOption {
	return func(e *ExpansionEngine) { e.logger = l }
}

// NewExpansionEngine creates an engine. A nil provider disables expansion.
func NewExpansionEngine(hybrid *HybridScorer, variants textgen.Provider, opts ...ExpansionOption) *ExpansionEngine {
	if variants == nil {
		variants = textgen.Noop{}
	}
	e := &ExpansionEngine{
		hybrid:         hybrid,
		variants:       variants,
		boost:          DefaultBoostFactor,
		semanticWeight: 0.7,
		keywordWeight:  0.3,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type merged struct {
	result RankedResult
	best   float64
	count  int
}

// Search runs a hybrid search per phrasing and merges by record id with
// boosted = best * (1 + boost*(n-1)). A failing variant provider degrades
// the search to the original phrasing only.
func (e *ExpansionEngine) Search(ctx context.Context, p ExpansionParams) (*ExpansionResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, emptyQuery()
	}
	if err := validateTopK(p.TopK); err != nil {
		return nil, err
	}
	if p.MaxExpansions < 1 {
		p.MaxExpansions = 1
	}

	queries, degraded := e.phrasings(ctx, p)

	perQuery := make([][]RankedResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			res, err := e.hybrid.Search(gctx, HybridParams{
				Query:          q,
				SemanticWeight: e.semanticWeight,
				KeywordWeight:  e.keywordWeight,
				TopK:           p.TopK,
			})
			if err != nil {
				return err
			}
			perQuery[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := e.merge(perQuery)
	return &ExpansionResult{Queries: queries, Results: truncate(results, p.TopK), Degraded: degraded}, nil
}

// phrasings returns the original query followed by up to
// MaxExpansions-1 distinct variants.
func (e *ExpansionEngine) phrasings(ctx context.Context, p ExpansionParams) ([]string, bool) {
	queries := []string{p.Query}
	want := p.MaxExpansions - 1
	if want == 0 {
		return queries, false
	}

	variants, err := e.variants.GenerateVariants(ctx, p.Query, want)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// The hybrid search will surface the cancellation.
			return queries, true
		}
		e.logger.Warn("query expansion failed, searching original phrasing only",
			slog.String("error", err.Error()),
			slog.Int("query_length", len(p.Query)))
		return queries, true
	}
	return append(queries, textgen.Dedupe(variants, p.Query, want)...), false
}

func (e *ExpansionEngine) merge(perQuery [][]RankedResult) []RankedResult {
	byID := make(map[string]*merged)
	var order []string
	for _, results := range perQuery {
		for _, r := range results {
			m, ok := byID[r.EmbeddingRecordID]
			if !ok {
				byID[r.EmbeddingRecordID] = &merged{result: r, best: r.CombinedScore, count: 1}
				order = append(order, r.EmbeddingRecordID)
				continue
			}
			m.count++
			if r.CombinedScore > m.best {
				m.best = r.CombinedScore
				m.result = r
			}
		}
	}

	out := make([]RankedResult, 0, len(order))
	for _, id := range order {
		m := byID[id]
		r := m.result
		r.QueryCount = m.count
		r.CombinedScore = m.best * (1 + e.boost*float64(m.count-1))
		out = append(out, r)
	}

	slices.SortStableFunc(out, func(a, b RankedResult) int {
		if c := cmp.Compare(b.CombinedScore, a.CombinedScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.QueryCount, a.QueryCount); c != 0 {
			return c
		}
		return cmp.Compare(a.EmbeddingRecordID, b.EmbeddingRecordID)
	})
	return out
}
