package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MacroAcon/tavren/internal/embed"
	"github.com/MacroAcon/tavren/internal/keyword"
	"github.com/MacroAcon/tavren/internal/store"
)

// fakeEmbedder returns fixed vectors per text.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ embed.Kind) ([]float32, error) {
	f.calls.Add(1)
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return v, nil
}

// fakeVariants returns canned variants or an error.
type fakeVariants struct {
	mu       sync.Mutex
	variants []string
	err      error
	calls    int
	lastMax  int
}

func (f *fakeVariants) GenerateVariants(_ context.Context, _ string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastMax = max
	if f.err != nil {
		return nil, f.err
	}
	return f.variants, nil
}

func (f *fakeVariants) Close() error { return nil }

var fixtureTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.OpenSQLite(store.SQLiteOptions{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func put(t *testing.T, st store.Store, id, pkg, text string, vec []float32, meta map[string]any) {
	t.Helper()
	require.NoError(t, st.Upsert(context.Background(), &store.EmbeddingRecord{
		ID:            id,
		PackageID:     pkg,
		EmbeddingType: "content",
		Vector:        vec,
		TextContent:   text,
		Metadata:      meta,
		CreatedAt:     fixtureTime,
	}))
}

func newKeywordScorer(t *testing.T) *keyword.Scorer {
	t.Helper()
	a, err := keyword.NewAnalyzer("english")
	require.NoError(t, err)
	return keyword.NewScorer(a, keyword.MeasureCoverage)
}

// seedHealthStore loads two packages: P1 with three chunks, one of which
// matches "heart rate" lexically and semantically, and P2 with a single
// chunk that matches only semantically.
func seedHealthStore(t *testing.T) (*store.SQLiteStore, *fakeEmbedder) {
	t.Helper()
	st := newTestStore(t)
	put(t, st, "c1", "P1", "resting heart rate averaged 58 bpm", []float32{0.9, 0.1, 0}, map[string]any{"type": "health"})
	put(t, st, "c2", "P1", "monthly grocery spending", []float32{0, 1, 0}, map[string]any{"type": "finance"})
	put(t, st, "c3", "P1", "sleep duration seven hours", []float32{0, 0, 1}, map[string]any{"type": "health"})
	put(t, st, "c4", "P2", "cardiac pulse measurements", []float32{0.85, 0.15, 0}, map[string]any{"type": "fitness"})

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"heart rate":  {1, 0, 0},
		"pulse rate":  {0.8, 0.2, 0},
		"cardiac":     {0.85, 0.15, 0},
		"sleep hours": {0, 0.1, 1},
	}}
	return st, emb
}
