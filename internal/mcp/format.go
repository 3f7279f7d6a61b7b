package mcp

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MacroAcon/tavren/internal/search"
)

// maxSnippetRunes bounds the text shown per result in tool text content.
const maxSnippetRunes = 300

// FormatRanked renders ranked results as markdown for clients that only
// read text content.
func FormatRanked(tool, query string, results []search.RankedResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s results for %q\n\n", tool, query)
	fmt.Fprintf(&sb, "Found %d result", len(results))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		fmt.Fprintf(&sb, "### %d. %s (package: %s, type: %s)\n", i+1, r.EmbeddingRecordID, r.PackageID, r.EmbeddingType)
		fmt.Fprintf(&sb, "Score: %.3f (semantic %.3f, keyword %.3f)", r.CombinedScore, r.SemanticScore, r.KeywordScore)
		if r.QueryCount > 1 {
			fmt.Fprintf(&sb, ", found by %d phrasings", r.QueryCount)
		}
		if r.MatchedFacets > 0 {
			fmt.Fprintf(&sb, ", %d facet matches", r.MatchedFacets)
		}
		sb.WriteString("\n\n")
		sb.WriteString(snippet(r.TextContent))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatContext renders an assembled context with a one-line summary.
func FormatContext(resp *search.CrossPackageContextResponse) string {
	if resp.ItemCount == 0 {
		return fmt.Sprintf("No context assembled for %q", resp.QueryText)
	}
	return fmt.Sprintf("%d items from %d packages (%d tokens)\n\n%s",
		resp.ItemCount, resp.PackageCount, resp.TokenCount, resp.Context)
}

func snippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxSnippetRunes {
		return string(runes)
	}
	return string(runes[:maxSnippetRunes]) + "..."
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
