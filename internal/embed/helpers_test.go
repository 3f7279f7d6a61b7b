package embed

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// countingProvider returns a fixed vector, counts calls and can block
// until released.
type countingProvider struct {
	dims    int
	calls   atomic.Int32
	gate    chan struct{}
	err     error
	once    sync.Once
	started chan struct{}
}

func newCountingProvider(dims int) *countingProvider {
	return &countingProvider{dims: dims, started: make(chan struct{})}
}

func (p *countingProvider) Embed(ctx context.Context, _ string) ([]float32, error) {
	p.calls.Add(1)
	p.once.Do(func() { close(p.started) })
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	v := make([]float32, p.dims)
	v[0] = 1
	return v, nil
}

func (p *countingProvider) ModelName() string { return "counting" }
func (p *countingProvider) Dimensions() int   { return p.dims }
func (p *countingProvider) Close() error      { return nil }
