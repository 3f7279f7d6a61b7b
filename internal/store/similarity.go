package store

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Zero vectors have similarity 0 with everything.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	// clamp float drift
	return math.Max(-1, math.Min(1, sim))
}

// SortScored orders by similarity descending, then created_at ascending,
// then id ascending.
func SortScored(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.Before(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// TopK sorts results and truncates them to k.
func TopK(results []ScoredRecord, k int) []ScoredRecord {
	SortScored(results)
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// searchLimit is how many approximate candidates to fetch so the exact
// rescore and tie-break choose the final topK from a wider set.
func searchLimit(topK int) int {
	return max(topK*4, topK+16)
}
