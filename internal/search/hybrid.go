// Package search ranks embedding records for a query.
//
// HybridScorer blends cosine similarity with lexical overlap.
// ExpansionEngine runs the hybrid scorer once per query phrasing and boosts
// records found by several phrasings. FacetedEngine re-weights a hybrid
// pool by metadata facets and groups the result. Service exposes the four
// request/response operations on top of them.
package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MacroAcon/tavren/internal/embed"
	"github.com/MacroAcon/tavren/internal/keyword"
	"github.com/MacroAcon/tavren/internal/store"
)

// DefaultOversamplingFactor sizes the candidate pool relative to top_k.
const DefaultOversamplingFactor = 3

// HybridParams describes one hybrid search.
type HybridParams struct {
	Query          string
	SemanticWeight float64
	KeywordWeight  float64
	TopK           int
	Filter         store.Filter
}

// HybridScorer combines semantic and keyword scores.
type HybridScorer struct {
	store        store.Store
	embedder     Embedder
	keyword      *keyword.Scorer
	oversampling int
	logger       *slog.Logger
}

// HybridOption configures a HybridScorer.
type HybridOption func(*HybridScorer)

// WithOversampling sets the candidate pool multiplier. Values below 1 are ignored.
func WithOversampling(factor int) HybridOption {
	return func(h *HybridScorer) {
		if factor >= 1 {
			h.oversampling = factor
		}
	}
}

// WithHybridLogger sets the logger.
func WithHybridLogger(l *slog.Logger) HybridOption {
	return func(h *HybridScorer) { h.logger = l }
}

// NewHybridScorer creates a scorer over st.
func NewHybridScorer(st store.Store, embedder Embedder, kw *keyword.Scorer, opts ...HybridOption) *HybridScorer {
	h := &HybridScorer{
		store:        st,
		embedder:     embedder,
		keyword:      kw,
		oversampling: DefaultOversamplingFactor,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Search returns the top p.TopK records by
// SemanticWeight*semantic + KeywordWeight*keyword.
func (h *HybridScorer) Search(ctx context.Context, p HybridParams) ([]RankedResult, error) {
	if err := validateTopK(p.TopK); err != nil {
		return nil, err
	}
	results, err := h.rank(ctx, p, h.poolSize(p.TopK))
	if err != nil {
		return nil, err
	}
	return truncate(results, p.TopK), nil
}

func (h *HybridScorer) poolSize(topK int) int {
	return max(topK*h.oversampling, topK)
}

// rank scores a candidate pool of the given size and returns all of it,
// sorted, without truncating to top_k.
func (h *HybridScorer) rank(ctx context.Context, p HybridParams, pool int) ([]RankedResult, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, emptyQuery()
	}
	if err := validateWeight("semantic_weight", p.SemanticWeight); err != nil {
		return nil, err
	}
	if err := validateWeight("keyword_weight", p.KeywordWeight); err != nil {
		return nil, err
	}

	vec, err := h.embedder.Embed(ctx, p.Query, embed.KindQuery)
	if err != nil {
		return nil, err
	}

	candidates, err := h.store.Query(ctx, vec, pool, p.Filter)
	if err != nil {
		return nil, err
	}

	q := h.keyword.Prepare(p.Query)
	results := make([]RankedResult, 0, len(candidates))
	for _, c := range candidates {
		rec := c.Record
		sem := normalizeSimilarity(c.Similarity)
		kw := q.Score(rec.TextContent)
		results = append(results, RankedResult{
			EmbeddingRecordID: rec.ID,
			PackageID:         rec.PackageID,
			EmbeddingType:     rec.EmbeddingType,
			TextContent:       rec.TextContent,
			Metadata:          rec.Metadata,
			Similarity:        c.Similarity,
			SemanticScore:     sem,
			KeywordScore:      kw,
			CombinedScore:     p.SemanticWeight*sem + p.KeywordWeight*kw,
		})
	}
	sortByCombined(results)

	h.logger.Debug("hybrid_ranked",
		slog.Int("candidates", len(candidates)),
		slog.Int("pool", pool),
		slog.Bool("keyword_terms", !q.Empty()))
	return results, nil
}
