package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/store"
)

type fakeLookup struct {
	packages map[string]store.Package
	err      error
	calls    int
}

func (f *fakeLookup) GetMany(_ context.Context, ids []string) (map[string]store.Package, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]store.Package)
	for _, id := range ids {
		if p, ok := f.packages[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func sampleItems() []Item {
	return []Item{
		{RecordID: "r1", PackageID: "p1", Text: "resting heart rate 58 bpm", Score: 0.91},
		{RecordID: "r2", PackageID: "p2", Text: "average pulse during runs", Score: 0.85},
		{RecordID: "r3", PackageID: "p1", Text: "heart rate variability trend", Score: 0.70},
		{RecordID: "r4", PackageID: "p3", Text: "sleep duration 7h", Score: 0.40},
		{RecordID: "r5", PackageID: "p1", Text: "max heart rate 182", Score: 0.65},
	}
}

func TestCharEstimator(t *testing.T) {
	e := CharEstimator{CharsPerToken: 4}
	assert.Equal(t, 0, e.EstimateTokens(""))
	assert.Equal(t, 1, e.EstimateTokens("abc"))
	assert.Equal(t, 1, e.EstimateTokens("abcd"))
	assert.Equal(t, 2, e.EstimateTokens("abcde"))
	// runes, not bytes
	assert.Equal(t, 1, e.EstimateTokens("héé"))
	assert.Equal(t, 2, CharEstimator{}.EstimateTokens("12345"))
}

func TestAssemble_EmptyInput(t *testing.T) {
	_, err := New().Assemble(context.Background(), nil, Params{MaxPackages: 1, MaxItemsPerPackage: 1, MaxTokens: 100})

	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindEmptyResultSet))
}

func TestAssemble_InvalidParams(t *testing.T) {
	_, err := New().Assemble(context.Background(), sampleItems(), Params{MaxPackages: 0, MaxItemsPerPackage: 1, MaxTokens: 100})
	assert.True(t, terrors.IsKind(err, terrors.KindInvalidInput))
}

func TestAssemble_OrdersPackagesAndItems(t *testing.T) {
	// Given three packages where p1 holds the best item
	lookup := &fakeLookup{packages: map[string]store.Package{
		"p1": {ID: "p1", Name: "Cardio Export", Type: "health"},
	}}
	a := New(WithPackageLookup(lookup))

	// When assembling with room for everything
	res, err := a.Assemble(context.Background(), sampleItems(), Params{MaxPackages: 2, MaxItemsPerPackage: 2, MaxTokens: 10000})

	// Then p1 then p2 are rendered, each capped at two items
	require.NoError(t, err)
	assert.Equal(t, 2, res.PackageCount)
	assert.Equal(t, 3, res.ItemCount)
	require.Len(t, res.Packages, 2)
	assert.Equal(t, PackageSummary{PackageID: "p1", Name: "Cardio Export", Type: "health", BestScore: 0.91, ItemCount: 2}, res.Packages[0])
	assert.Equal(t, "p2", res.Packages[1].Name, "unknown packages fall back to their id")

	ctxText := res.Context
	assert.True(t, strings.HasPrefix(ctxText, "## Package: Cardio Export (id: p1, type: health)\n\n[1] (relevance: 0.910)\nresting heart rate 58 bpm\n\n"))
	assert.Less(t, strings.Index(ctxText, "heart rate variability"), strings.Index(ctxText, "## Package: p2"))
	assert.NotContains(t, ctxText, "max heart rate 182")
	assert.NotContains(t, ctxText, "sleep duration")
	assert.Equal(t, CharEstimator{}.EstimateTokens(ctxText), res.TokenCount)
}

func TestAssemble_PackageTieBreaksByID(t *testing.T) {
	items := []Item{
		{RecordID: "a", PackageID: "pb", Text: "x", Score: 0.5},
		{RecordID: "b", PackageID: "pa", Text: "y", Score: 0.5},
	}
	res, err := New().Assemble(context.Background(), items, Params{MaxPackages: 1, MaxItemsPerPackage: 1, MaxTokens: 1000})

	require.NoError(t, err)
	require.Len(t, res.Packages, 1)
	assert.Equal(t, "pa", res.Packages[0].PackageID)
}

func TestAssemble_BudgetSmallerThanFirstItem(t *testing.T) {
	res, err := New().Assemble(context.Background(), sampleItems(), Params{MaxPackages: 3, MaxItemsPerPackage: 3, MaxTokens: 5})

	require.NoError(t, err)
	assert.Equal(t, "", res.Context)
	assert.Equal(t, 0, res.ItemCount)
	assert.Equal(t, 0, res.TokenCount)
	assert.Equal(t, 0, res.PackageCount)
	assert.Empty(t, res.Packages)
}

func TestAssemble_TruncatesAtItemBoundary(t *testing.T) {
	a := New()
	full, err := a.Assemble(context.Background(), sampleItems(), Params{MaxPackages: 3, MaxItemsPerPackage: 3, MaxTokens: 10000})
	require.NoError(t, err)
	require.Equal(t, 5, full.ItemCount)

	for budget := 0; budget <= full.TokenCount; budget += 3 {
		res, err := a.Assemble(context.Background(), sampleItems(), Params{MaxPackages: 3, MaxItemsPerPackage: 3, MaxTokens: budget})
		require.NoError(t, err)

		assert.LessOrEqual(t, res.TokenCount, budget)
		assert.LessOrEqual(t, res.ItemCount, 9)
		// every truncated rendering is a prefix of the full one ending on an item
		assert.True(t, strings.HasPrefix(full.Context, res.Context))
		if res.Context != "" {
			assert.True(t, strings.HasSuffix(res.Context, "\n\n"))
		}
	}
}

func TestAssemble_LookupFailureFallsBack(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db locked")}
	res, err := New(WithPackageLookup(lookup)).Assemble(context.Background(), sampleItems(), Params{MaxPackages: 1, MaxItemsPerPackage: 1, MaxTokens: 1000})

	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)
	assert.Contains(t, res.Context, "## Package: p1 (id: p1)")
}

type wordEstimator struct{}

func (wordEstimator) EstimateTokens(text string) int { return len(strings.Fields(text)) }

func TestAssemble_CustomEstimator(t *testing.T) {
	res, err := New(WithEstimator(wordEstimator{})).Assemble(context.Background(), sampleItems(), Params{MaxPackages: 3, MaxItemsPerPackage: 3, MaxTokens: 1000})

	require.NoError(t, err)
	assert.Equal(t, len(strings.Fields(res.Context)), res.TokenCount)
}
