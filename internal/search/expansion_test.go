package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

func TestExpansion_MergesAndBoosts(t *testing.T) {
	// Given a provider returning one duplicate of the original and two variants
	st, emb := seedHealthStore(t)
	h := NewHybridScorer(st, emb, newKeywordScorer(t))
	variants := &fakeVariants{variants: []string{"pulse rate", "HEART RATE", "cardiac"}}
	e := NewExpansionEngine(h, variants)

	// When expanding to three phrasings
	res, err := e.Search(context.Background(), ExpansionParams{Query: "heart rate", MaxExpansions: 3, TopK: 2})

	// Then the original is phrasing 0 and the duplicate is dropped
	require.NoError(t, err)
	assert.Equal(t, []string{"heart rate", "pulse rate", "cardiac"}, res.Queries)
	assert.False(t, res.Degraded)
	assert.Equal(t, 2, variants.lastMax)

	// And every result carries its boosted best score
	best := map[string]float64{}
	seen := map[string]int{}
	for _, q := range res.Queries {
		single, err := h.Search(context.Background(), HybridParams{Query: q, SemanticWeight: 0.7, KeywordWeight: 0.3, TopK: 2})
		require.NoError(t, err)
		for _, r := range single {
			seen[r.EmbeddingRecordID]++
			best[r.EmbeddingRecordID] = max(best[r.EmbeddingRecordID], r.CombinedScore)
		}
	}
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		require.Contains(t, seen, r.EmbeddingRecordID, "every result comes from some phrasing")
		assert.Equal(t, seen[r.EmbeddingRecordID], r.QueryCount)
		want := best[r.EmbeddingRecordID] * (1 + DefaultBoostFactor*float64(r.QueryCount-1))
		assert.InDelta(t, want, r.CombinedScore, 1e-9)
	}
	assert.GreaterOrEqual(t, res.Results[0].CombinedScore, res.Results[1].CombinedScore)
}

func TestExpansion_DegradesWhenProviderFails(t *testing.T) {
	st, emb := seedHealthStore(t)
	h := NewHybridScorer(st, emb, newKeywordScorer(t))
	e := NewExpansionEngine(h, &fakeVariants{err: terrors.New(terrors.ErrCodeTextGenFailed, "model offline", nil)})

	res, err := e.Search(context.Background(), ExpansionParams{Query: "heart rate", MaxExpansions: 4, TopK: 2})

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"heart rate"}, res.Queries)

	plain, err := h.Search(context.Background(), HybridParams{Query: "heart rate", SemanticWeight: 0.7, KeywordWeight: 0.3, TopK: 2})
	require.NoError(t, err)
	require.Len(t, res.Results, len(plain))
	for i := range plain {
		assert.Equal(t, plain[i].EmbeddingRecordID, res.Results[i].EmbeddingRecordID)
		assert.Equal(t, 1, res.Results[i].QueryCount)
		assert.InDelta(t, plain[i].CombinedScore, res.Results[i].CombinedScore, 1e-12)
	}
}

func TestExpansion_SinglePhrasingSkipsProvider(t *testing.T) {
	st, emb := seedHealthStore(t)
	variants := &fakeVariants{variants: []string{"pulse rate"}}
	e := NewExpansionEngine(NewHybridScorer(st, emb, newKeywordScorer(t)), variants)

	res, err := e.Search(context.Background(), ExpansionParams{Query: "heart rate", MaxExpansions: 1, TopK: 3})

	require.NoError(t, err)
	assert.Equal(t, 0, variants.calls)
	assert.Equal(t, []string{"heart rate"}, res.Queries)
}

func TestExpansion_NilProviderIsNoop(t *testing.T) {
	st, emb := seedHealthStore(t)
	e := NewExpansionEngine(NewHybridScorer(st, emb, newKeywordScorer(t)), nil)

	res, err := e.Search(context.Background(), ExpansionParams{Query: "heart rate", MaxExpansions: 3, TopK: 3})

	require.NoError(t, err)
	assert.Equal(t, []string{"heart rate"}, res.Queries)
	assert.False(t, res.Degraded)
}

func TestExpansion_PhrasingSearchErrorsPropagate(t *testing.T) {
	st, emb := seedHealthStore(t)
	// "unknown phrase" has no vector, so its hybrid search fails
	e := NewExpansionEngine(NewHybridScorer(st, emb, newKeywordScorer(t)), &fakeVariants{variants: []string{"unknown phrase"}})

	_, err := e.Search(context.Background(), ExpansionParams{Query: "heart rate", MaxExpansions: 2, TopK: 2})

	require.Error(t, err)
}

func TestExpansion_Validation(t *testing.T) {
	e := NewExpansionEngine(NewHybridScorer(nil, nil, nil), nil)

	_, err := e.Search(context.Background(), ExpansionParams{Query: "", MaxExpansions: 2, TopK: 2})
	assert.Equal(t, terrors.ErrCodeQueryEmpty, terrors.GetCode(err))

	_, err = e.Search(context.Background(), ExpansionParams{Query: "x", MaxExpansions: 2, TopK: 0})
	assert.True(t, terrors.IsKind(err, terrors.KindInvalidInput))
}

func TestExpansion_MergeOrdering(t *testing.T) {
	e := NewExpansionEngine(nil, nil, WithBoostFactor(1))
	perQuery := [][]RankedResult{
		{{EmbeddingRecordID: "x", CombinedScore: 0.25}, {EmbeddingRecordID: "z", CombinedScore: 0.5}},
		{{EmbeddingRecordID: "y", CombinedScore: 0.5}, {EmbeddingRecordID: "x", CombinedScore: 0.125}},
	}

	merged := e.merge(perQuery)

	// x: 0.25 * (1 + 1*(2-1)) = 0.5, tied with y and z; query_count then id decide
	require.Len(t, merged, 3)
	assert.Equal(t, []string{"x", "y", "z"}, ids(merged))
	assert.Equal(t, 2, merged[0].QueryCount)
	assert.Equal(t, 0.5, merged[0].CombinedScore)
	assert.Equal(t, 1, merged[1].QueryCount)
}

func TestExpansion_CanceledContext(t *testing.T) {
	st, emb := seedHealthStore(t)
	e := NewExpansionEngine(NewHybridScorer(st, emb, newKeywordScorer(t)), &fakeVariants{err: context.Canceled})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, ExpansionParams{Query: "heart rate", MaxExpansions: 3, TopK: 2})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
