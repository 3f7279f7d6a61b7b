package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Feature weights for the hashed vector.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// StaticProvider builds deterministic vectors by feature hashing: word
// tokens and character trigrams are hashed into buckets and the result is
// L2-normalized. It needs no network or model and suits offline use and tests.
type StaticProvider struct {
	dims   int
	closed atomic.Bool
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a static provider producing dims-length vectors.
func NewStaticProvider(dims int) *StaticProvider {
	return &StaticProvider{dims: dims}
}

// Embed hashes text into a unit vector. Texts sharing words or trigrams
// land close together.
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.closed.Load() {
		return nil, terrors.New(terrors.ErrCodeProviderUnavailable, "static provider is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, p.dims)
	lower := strings.ToLower(text)

	for _, token := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		vector[bucket(token, p.dims)] += tokenWeight
	}

	compact := []rune(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, lower))
	for i := 0; i+ngramSize <= len(compact); i++ {
		vector[bucket(string(compact[i:i+ngramSize]), p.dims)] += ngramWeight
	}

	return normalizeVector(vector), nil
}

// bucket maps a feature to a vector index with FNV-64.
func bucket(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// ModelName returns "static".
func (p *StaticProvider) ModelName() string { return "static" }

// Dimensions returns the configured vector length.
func (p *StaticProvider) Dimensions() int { return p.dims }

// Close marks the provider closed.
func (p *StaticProvider) Close() error {
	p.closed.Store(true)
	return nil
}
