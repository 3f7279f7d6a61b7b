// Package assemble packs ranked results from many packages into one
// token-budgeted text context.
//
// Packages are ordered by their best item score and items by score within
// a package. Rendering stops at the first item that would push the
// estimated token count past the budget; items are never cut in half.
package assemble

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/store"
)

// Item is one ranked result offered for assembly.
type Item struct {
	RecordID      string
	PackageID     string
	EmbeddingType string
	Text          string
	Score         float64
}

// PackageLookup resolves package identity for headers.
// store.PackageStore implements it.
type PackageLookup interface {
	GetMany(ctx context.Context, ids []string) (map[string]store.Package, error)
}

// Params bounds an assembly.
type Params struct {
	MaxPackages        int
	MaxItemsPerPackage int
	MaxTokens          int
}

// PackageSummary describes one package rendered into the context.
type PackageSummary struct {
	PackageID string  `json:"package_id"`
	Name      string  `json:"name"`
	Type      string  `json:"type,omitempty"`
	BestScore float64 `json:"best_score"`
	ItemCount int     `json:"item_count"`
}

// Result is an assembled context and the counts actually achieved.
type Result struct {
	Context      string           `json:"context"`
	Packages     []PackageSummary `json:"packages"`
	PackageCount int              `json:"package_count"`
	ItemCount    int              `json:"item_count"`
	TokenCount   int              `json:"token_count"`
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEstimator replaces the character-based token estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(a *Assembler) { a.estimator = e }
}

// WithPackageLookup resolves package names and types for headers.
func WithPackageLookup(l PackageLookup) Option {
	return func(a *Assembler) { a.lookup = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// Assembler builds contexts. It is stateless and safe for concurrent use.
type Assembler struct {
	estimator TokenEstimator
	lookup    PackageLookup
	logger    *slog.Logger
}

// New creates an Assembler using CharEstimator by default.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		estimator: CharEstimator{CharsPerToken: DefaultCharsPerToken},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type packageGroup struct {
	id    string
	best  float64
	items []Item
}

// Assemble selects packages and items under p and renders them.
// It fails with EmptyResultSet only when items is empty; a budget too
// small for the first item yields an empty context.
func (a *Assembler) Assemble(ctx context.Context, items []Item, p Params) (*Result, error) {
	if len(items) == 0 {
		return nil, terrors.EmptyResultSet()
	}
	if p.MaxPackages <= 0 || p.MaxItemsPerPackage <= 0 {
		return nil, terrors.ValidationError("max_packages and max_items_per_package must be positive", nil)
	}
	if p.MaxTokens < 0 {
		return nil, terrors.ValidationError("max_tokens must not be negative", nil)
	}

	groups := groupByPackage(items)
	if len(groups) > p.MaxPackages {
		groups = groups[:p.MaxPackages]
	}
	for i := range groups {
		if len(groups[i].items) > p.MaxItemsPerPackage {
			groups[i].items = groups[i].items[:p.MaxItemsPerPackage]
		}
	}

	packages := a.resolvePackages(ctx, groups)

	res := &Result{Packages: []PackageSummary{}}
	var sb strings.Builder
	tokens := 0

render:
	for _, g := range groups {
		pkg := packages[g.id]
		header := renderHeader(pkg)
		summary := PackageSummary{PackageID: g.id, Name: pkg.Name, Type: pkg.Type, BestScore: g.best}

		for i, item := range g.items {
			block := renderItem(i+1, item)
			if i == 0 {
				block = header + block
			}
			candidate := sb.String() + block
			n := a.estimator.EstimateTokens(candidate)
			if n > p.MaxTokens {
				if summary.ItemCount > 0 {
					res.Packages = append(res.Packages, summary)
				}
				break render
			}
			sb.WriteString(block)
			tokens = n
			summary.ItemCount++
			res.ItemCount++
		}
		res.Packages = append(res.Packages, summary)
	}

	res.Context = sb.String()
	res.TokenCount = tokens
	res.PackageCount = len(res.Packages)
	a.logger.Debug("context_assembled",
		slog.Int("package_count", res.PackageCount),
		slog.Int("item_count", res.ItemCount),
		slog.Int("token_count", res.TokenCount),
		slog.Int("max_tokens", p.MaxTokens))
	return res, nil
}

// groupByPackage orders packages by best score then id, and items by
// score then record id.
func groupByPackage(items []Item) []packageGroup {
	index := make(map[string]int)
	var groups []packageGroup
	for _, item := range items {
		i, ok := index[item.PackageID]
		if !ok {
			i = len(groups)
			index[item.PackageID] = i
			groups = append(groups, packageGroup{id: item.PackageID, best: item.Score})
		}
		g := &groups[i]
		g.items = append(g.items, item)
		if item.Score > g.best {
			g.best = item.Score
		}
	}

	for i := range groups {
		slices.SortStableFunc(groups[i].items, func(x, y Item) int {
			if c := cmp.Compare(y.Score, x.Score); c != 0 {
				return c
			}
			return cmp.Compare(x.RecordID, y.RecordID)
		})
	}
	slices.SortStableFunc(groups, func(x, y packageGroup) int {
		if c := cmp.Compare(y.best, x.best); c != 0 {
			return c
		}
		return cmp.Compare(x.id, y.id)
	})
	return groups
}

// resolvePackages looks up headers, falling back to the id for unknown
// packages or a failed lookup.
func (a *Assembler) resolvePackages(ctx context.Context, groups []packageGroup) map[string]store.Package {
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.id
	}

	var found map[string]store.Package
	if a.lookup != nil {
		var err error
		found, err = a.lookup.GetMany(ctx, ids)
		if err != nil {
			a.logger.Warn("package lookup failed, rendering ids only", slog.String("error", err.Error()))
			found = nil
		}
	}

	out := make(map[string]store.Package, len(ids))
	for _, id := range ids {
		pkg, ok := found[id]
		if !ok {
			pkg = store.Package{ID: id}
		}
		if pkg.Name == "" {
			pkg.Name = id
		}
		out[id] = pkg
	}
	return out
}

func renderHeader(pkg store.Package) string {
	if pkg.Type == "" {
		return fmt.Sprintf("## Package: %s (id: %s)\n\n", pkg.Name, pkg.ID)
	}
	return fmt.Sprintf("## Package: %s (id: %s, type: %s)\n\n", pkg.Name, pkg.ID, pkg.Type)
}

func renderItem(n int, item Item) string {
	label := ""
	if item.EmbeddingType != "" {
		label = " " + item.EmbeddingType
	}
	return fmt.Sprintf("[%d]%s (relevance: %.3f)\n%s\n\n", n, label, item.Score, strings.TrimSpace(item.Text))
}
