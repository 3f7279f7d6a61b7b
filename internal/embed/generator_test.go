package embed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacroAcon/tavren/internal/cache"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

func newTestGenerator(t *testing.T, p Provider, dims int) *Generator {
	t.Helper()
	c, err := cache.New[[]float32]("embeddings", 100, time.Hour)
	require.NoError(t, err)
	return NewGenerator(p, c, dims)
}

func TestGenerator_Embed_ConcurrentCallsShareOneProviderCall(t *testing.T) {
	p := newCountingProvider(8)
	p.gate = make(chan struct{})
	g := newTestGenerator(t, p, 8)

	const n = 16
	var wg sync.WaitGroup
	results := make([][]float32, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Embed(context.Background(), "heart rate", KindQuery)
		}(i)
	}

	<-p.started
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestGenerator_Embed_CachesByTextAndKind(t *testing.T) {
	p := newCountingProvider(8)
	g := newTestGenerator(t, p, 8)
	ctx := context.Background()

	_, err := g.Embed(ctx, "sleep", KindQuery)
	require.NoError(t, err)
	_, err = g.Embed(ctx, "sleep", KindQuery)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.calls.Load())

	_, err = g.Embed(ctx, "sleep", KindContent)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGenerator_Embed_RejectsDimensionMismatch(t *testing.T) {
	p := newCountingProvider(4)
	g := newTestGenerator(t, p, 8)

	_, err := g.Embed(context.Background(), "steps", KindQuery)

	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindInvalidVectorDimension))
	te, ok := terrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "8", te.Details["expected"])
	assert.Equal(t, "4", te.Details["got"])
}

func TestGenerator_Embed_RejectsEmptyText(t *testing.T) {
	p := newCountingProvider(8)
	g := newTestGenerator(t, p, 8)

	_, err := g.Embed(context.Background(), "   ", KindQuery)

	assert.True(t, terrors.IsKind(err, terrors.KindInvalidInput))
	assert.Zero(t, p.calls.Load())
}

func TestGenerator_Embed_FailureIsNotCached(t *testing.T) {
	p := newCountingProvider(8)
	p.err = terrors.New(terrors.ErrCodeProviderUnavailable, "down", nil)
	g := newTestGenerator(t, p, 8)
	ctx := context.Background()

	_, err := g.Embed(ctx, "calories", KindQuery)
	require.Error(t, err)
	assert.True(t, terrors.IsKind(err, terrors.KindEmbeddingProvider))

	p.err = nil
	vec, err := g.Embed(ctx, "calories", KindQuery)
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestContentHash_DistinguishesModelAndKind(t *testing.T) {
	base := ContentHash("text", KindQuery, "m1")

	assert.Equal(t, base, ContentHash("text", KindQuery, "m1"))
	assert.NotEqual(t, base, ContentHash("text", KindContent, "m1"))
	assert.NotEqual(t, base, ContentHash("text", KindQuery, "m2"))
}
