package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MacroAcon/tavren/internal/search"
)

func TestFormatRanked_Empty(t *testing.T) {
	assert.Equal(t, `No results found for "sleep"`, FormatRanked(ToolHybridSearch, "sleep", nil))
}

func TestFormatRanked(t *testing.T) {
	a := heartResult()
	b := heartResult()
	b.EmbeddingRecordID = "r2"
	b.MatchedFacets = 2

	text := FormatRanked(ToolFacetedSearch, "heart", []search.RankedResult{a, b})

	assert.Contains(t, text, `## faceted_search results for "heart"`)
	assert.Contains(t, text, "Found 2 results")
	assert.Contains(t, text, "### 1. r1 (package: wearable, type: content)")
	assert.Contains(t, text, "Score: 0.780 (semantic 0.900, keyword 0.500)")
	assert.Contains(t, text, "2 facet matches")
	assert.Less(t, strings.Index(text, "r1"), strings.Index(text, "r2"))
}

func TestFormatRanked_TruncatesLongText(t *testing.T) {
	r := heartResult()
	r.TextContent = strings.Repeat("é", maxSnippetRunes+10)

	text := FormatRanked(ToolHybridSearch, "q", []search.RankedResult{r})

	assert.Contains(t, text, strings.Repeat("é", maxSnippetRunes)+"...")
	assert.NotContains(t, text, strings.Repeat("é", maxSnippetRunes+1))
}

func TestFormatContext_Empty(t *testing.T) {
	resp := &search.CrossPackageContextResponse{QueryText: "heart"}

	assert.Equal(t, `No context assembled for "heart"`, FormatContext(resp))
}
