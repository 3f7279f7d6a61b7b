// Package textgen produces alternate phrasings of a search query.
//
// Variant generation is best-effort: callers treat every failure as a
// signal to fall back to the original query.
package textgen

import (
	"context"
	"strings"
)

// Provider generates query variants.
type Provider interface {
	// GenerateVariants returns up to max alternate phrasings of text.
	// The original text is not included.
	GenerateVariants(ctx context.Context, text string, max int) ([]string, error)

	// Close releases resources.
	Close() error
}

// Dedupe drops empty entries, entries equal to exclude, and case-insensitive
// repeats, keeping first occurrences in order. At most max entries are kept.
func Dedupe(variants []string, exclude string, max int) []string {
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(exclude)): {}}
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if len(out) >= max {
			break
		}
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Noop never produces variants.
type Noop struct{}

// GenerateVariants returns nil.
func (Noop) GenerateVariants(context.Context, string, int) ([]string, error) { return nil, nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
