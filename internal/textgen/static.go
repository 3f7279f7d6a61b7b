package textgen

import (
	"context"
	"strings"
)

// StaticProvider builds variants by substituting dictionary synonyms one
// term at a time. It is deterministic and needs no model.
type StaticProvider struct {
	synonyms map[string][]string
}

var _ Provider = (*StaticProvider)(nil)

// StaticOption configures a StaticProvider.
type StaticOption func(*StaticProvider)

// WithSynonyms adds or extends synonym mappings.
func WithSynonyms(synonyms map[string][]string) StaticOption {
	return func(p *StaticProvider) {
		for k, v := range synonyms {
			key := strings.ToLower(k)
			p.synonyms[key] = append(p.synonyms[key], v...)
		}
	}
}

// NewStaticProvider creates a provider seeded with HealthSynonyms.
func NewStaticProvider(opts ...StaticOption) *StaticProvider {
	p := &StaticProvider{synonyms: make(map[string][]string, len(HealthSynonyms))}
	for k, v := range HealthSynonyms {
		p.synonyms[k] = append([]string(nil), v...)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateVariants walks the query terms left to right and, for each term
// with synonyms, emits the query with that term replaced. Synonym rank is
// the outer loop so the first variants use each term's best synonym.
func (p *StaticProvider) GenerateVariants(ctx context.Context, text string, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	var candidates []string
	for rank := 0; ; rank++ {
		produced := false
		for i, w := range words {
			syns := p.synonyms[strings.ToLower(strings.Trim(w, ".,;:!?"))]
			if rank >= len(syns) {
				continue
			}
			produced = true
			replaced := make([]string, len(words))
			copy(replaced, words)
			replaced[i] = syns[rank]
			candidates = append(candidates, strings.Join(replaced, " "))
		}
		if !produced || len(candidates) >= max*2 {
			break
		}
	}

	return Dedupe(candidates, text, max), nil
}

// Close is a no-op.
func (p *StaticProvider) Close() error { return nil }
