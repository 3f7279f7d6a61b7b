package search

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/MacroAcon/tavren/internal/embed"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Embedder turns query text into a vector. embed.Generator implements it.
type Embedder interface {
	Embed(ctx context.Context, text string, kind embed.Kind) ([]float32, error)
}

// RankedResult is one scored record. SemanticScore is the cosine
// similarity mapped to [0, 1]; Similarity keeps the raw cosine.
type RankedResult struct {
	EmbeddingRecordID string         `json:"embedding_record_id"`
	PackageID         string         `json:"package_id"`
	EmbeddingType     string         `json:"embedding_type"`
	TextContent       string         `json:"text_content"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Similarity        float64        `json:"similarity"`
	SemanticScore     float64        `json:"semantic_score"`
	KeywordScore      float64        `json:"keyword_score"`
	CombinedScore     float64        `json:"combined_score"`
	MatchedFacets     int            `json:"matched_facets,omitempty"`
	FacetMatchScore   float64        `json:"facet_match_score,omitempty"`
	QueryCount        int            `json:"query_count,omitempty"`
}

// normalizeSimilarity maps cosine similarity from [-1, 1] to [0, 1].
func normalizeSimilarity(cos float64) float64 {
	return (cos + 1) / 2
}

// sortByCombined orders by combined score, then semantic score, then id.
func sortByCombined(results []RankedResult) {
	slices.SortStableFunc(results, func(a, b RankedResult) int {
		if c := cmp.Compare(b.CombinedScore, a.CombinedScore); c != 0 {
			return c
		}
		if c := cmp.Compare(b.SemanticScore, a.SemanticScore); c != 0 {
			return c
		}
		return cmp.Compare(a.EmbeddingRecordID, b.EmbeddingRecordID)
	})
}

func truncate(results []RankedResult, topK int) []RankedResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

func validateWeight(name string, w float64) error {
	if math.IsNaN(w) || w < 0 || w > 1 {
		return terrors.InvalidWeight(name, w)
	}
	return nil
}

func validateTopK(topK int) error {
	if topK <= 0 {
		return terrors.ValidationError("top_k must be positive", nil).
			WithSuggestion("Pass top_k >= 1 or omit it to use the configured default.")
	}
	return nil
}

func emptyQuery() error {
	return terrors.New(terrors.ErrCodeQueryEmpty, "query text is empty", nil)
}
