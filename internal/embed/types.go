// Package embed turns text into vectors.
//
// A Provider talks to an embedding model. The Generator sits in front of a
// provider and deduplicates work through the shared result cache, keyed by a
// content hash over (text, kind, model).
package embed

import (
	"context"
	"math"
)

// Kind tags the role of the text being embedded. It is part of the cache key,
// so the same text embedded as a query and as content never collide.
type Kind string

const (
	// KindQuery marks search query text.
	KindQuery Kind = "query"
	// KindContent marks package content chunks.
	KindContent Kind = "content"
	// KindSummary marks package summaries.
	KindSummary Kind = "summary"
)

// Provider generates vectors with an external or local model.
type Provider interface {
	// Embed returns the vector for text. Implementations report failures as
	// TavrenErrors that distinguish retryable from permanent causes.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Dimensions returns the vector length the provider produces.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
