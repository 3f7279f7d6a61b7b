package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/search"
)

// Tool names.
const (
	ToolHybridSearch         = "hybrid_search"
	ToolCrossPackageContext  = "cross_package_context"
	ToolQueryExpansionSearch = "query_expansion_search"
	ToolFacetedSearch        = "faceted_search"
)

// HybridSearchInput defines the input schema for hybrid_search.
type HybridSearchInput struct {
	QueryText      string              `json:"query_text" jsonschema:"the natural-language query"`
	SemanticWeight *float64            `json:"semantic_weight,omitempty" jsonschema:"weight of vector similarity in [0,1], default 0.7"`
	KeywordWeight  *float64            `json:"keyword_weight,omitempty" jsonschema:"weight of keyword overlap in [0,1], default 0.3"`
	EmbeddingType  string              `json:"embedding_type,omitempty" jsonschema:"restrict to one embedding type, e.g. content or summary"`
	TopK           int                 `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	MetadataFilter map[string][]string `json:"metadata_filter,omitempty" jsonschema:"metadata key to allowed values; all keys must match"`
}

// CrossPackageContextInput defines the input schema for cross_package_context.
type CrossPackageContextInput struct {
	QueryText          string   `json:"query_text" jsonschema:"the natural-language query"`
	MaxPackages        int      `json:"max_packages,omitempty" jsonschema:"maximum packages in the context, default 5"`
	MaxItemsPerPackage int      `json:"max_items_per_package,omitempty" jsonschema:"maximum items per package, default 3"`
	MaxTokens          int      `json:"max_tokens,omitempty" jsonschema:"token budget of the rendered context, default 2000"`
	UseHybrid          *bool    `json:"use_hybrid,omitempty" jsonschema:"blend keyword overlap into ranking, default true"`
	SemanticWeight     *float64 `json:"semantic_weight,omitempty" jsonschema:"weight of vector similarity in [0,1]"`
	KeywordWeight      *float64 `json:"keyword_weight,omitempty" jsonschema:"weight of keyword overlap in [0,1]"`
}

// QueryExpansionInput defines the input schema for query_expansion_search.
type QueryExpansionInput struct {
	QueryText     string `json:"query_text" jsonschema:"the natural-language query"`
	TopK          int    `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	MaxExpansions int    `json:"max_expansions,omitempty" jsonschema:"maximum phrasings including the original, default 3"`
}

// FacetedSearchInput defines the input schema for faceted_search.
type FacetedSearchInput struct {
	QueryText    string              `json:"query_text" jsonschema:"the natural-language query"`
	Facets       map[string][]string `json:"facets" jsonschema:"facet name to requested values"`
	FacetWeights map[string]float64  `json:"facet_weights,omitempty" jsonschema:"relative facet weights, default 1 each"`
	TopK         int                 `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
}

// ResultOutput is one ranked record.
type ResultOutput struct {
	RecordID        string         `json:"embedding_record_id"`
	PackageID       string         `json:"package_id"`
	EmbeddingType   string         `json:"embedding_type"`
	TextContent     string         `json:"text_content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SemanticScore   float64        `json:"semantic_score"`
	KeywordScore    float64        `json:"keyword_score"`
	CombinedScore   float64        `json:"combined_score"`
	MatchedFacets   int            `json:"matched_facets,omitempty"`
	FacetMatchScore float64        `json:"facet_match_score,omitempty"`
	QueryCount      int            `json:"query_count,omitempty"`
}

// HybridSearchOutput defines the output schema for hybrid_search.
type HybridSearchOutput struct {
	SearchType     string              `json:"search_type"`
	Timestamp      string              `json:"timestamp"`
	LatencyMS      int64               `json:"latency_ms"`
	QueryText      string              `json:"query_text"`
	SemanticWeight float64             `json:"semantic_weight"`
	KeywordWeight  float64             `json:"keyword_weight"`
	EmbeddingType  string              `json:"embedding_type,omitempty"`
	TopK           int                 `json:"top_k"`
	MetadataFilter map[string][]string `json:"metadata_filter,omitempty"`
	Results        []ResultOutput      `json:"results"`
	ResultCount    int                 `json:"result_count"`
}

// PackageOutput summarizes one package in an assembled context.
type PackageOutput struct {
	PackageID string  `json:"package_id"`
	Name      string  `json:"name"`
	Type      string  `json:"type,omitempty"`
	BestScore float64 `json:"best_score"`
	ItemCount int     `json:"item_count"`
}

// CrossPackageContextOutput defines the output schema for cross_package_context.
type CrossPackageContextOutput struct {
	SearchType   string          `json:"search_type"`
	Timestamp    string          `json:"timestamp"`
	LatencyMS    int64           `json:"latency_ms"`
	QueryText    string          `json:"query_text"`
	Context      string          `json:"context"`
	Packages     []PackageOutput `json:"packages"`
	PackageCount int             `json:"package_count"`
	ItemCount    int             `json:"item_count"`
	TokenCount   int             `json:"token_count"`
	SearchMS     int64           `json:"search_ms"`
	AssembleMS   int64           `json:"assemble_ms"`
}

// QueryExpansionOutput defines the output schema for query_expansion_search.
type QueryExpansionOutput struct {
	SearchType      string         `json:"search_type"`
	Timestamp       string         `json:"timestamp"`
	LatencyMS       int64          `json:"latency_ms"`
	QueryText       string         `json:"query_text"`
	ExpandedQueries []string       `json:"expanded_queries"`
	Degraded        bool           `json:"degraded"`
	Results         []ResultOutput `json:"results"`
	ResultCount     int            `json:"result_count"`
}

// FacetGroupOutput lists the record ids that matched one facet value.
type FacetGroupOutput struct {
	Facet     string   `json:"facet"`
	Value     string   `json:"value"`
	RecordIDs []string `json:"embedding_record_ids"`
}

// FacetedSearchOutput defines the output schema for faceted_search.
type FacetedSearchOutput struct {
	SearchType  string             `json:"search_type"`
	Timestamp   string             `json:"timestamp"`
	LatencyMS   int64              `json:"latency_ms"`
	QueryText   string             `json:"query_text"`
	Results     []ResultOutput     `json:"results"`
	Groups      []FacetGroupOutput `json:"groups"`
	ResultCount int                `json:"result_count"`
}

// registerTools registers the four retrieval tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolHybridSearch,
		Description: "Rank stored records by a weighted blend of semantic similarity and keyword overlap. Supports metadata filters and an embedding type restriction.",
	}, s.handleHybridSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolCrossPackageContext,
		Description: "Assemble a token-bounded context block from the best-matching records, grouped by data package with package headers.",
	}, s.handleCrossPackageContext)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolQueryExpansionSearch,
		Description: "Search with several phrasings of the query and boost records found by more than one phrasing. Falls back to the original query alone if rephrasing is unavailable.",
	}, s.handleQueryExpansion)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolFacetedSearch,
		Description: "Re-rank hybrid results by how many requested facet values each record matches, and group results by facet value.",
	}, s.handleFacetedSearch)

	s.logger.Debug("MCP tools registered", slog.Int("count", 4))
}

func (s *Server) handleHybridSearch(ctx context.Context, _ *mcp.CallToolRequest, in HybridSearchInput) (
	*mcp.CallToolResult,
	HybridSearchOutput,
	error,
) {
	var resp *search.HybridSearchResponse
	err := s.call(ctx, ToolHybridSearch, func(ctx context.Context) (err error) {
		resp, err = s.service.HybridSearch(ctx, search.HybridSearchRequest{
			QueryText:      in.QueryText,
			SemanticWeight: in.SemanticWeight,
			KeywordWeight:  in.KeywordWeight,
			EmbeddingType:  in.EmbeddingType,
			TopK:           in.TopK,
			MetadataFilter: in.MetadataFilter,
		})
		return err
	})
	if err != nil {
		return nil, HybridSearchOutput{}, err
	}

	out := HybridSearchOutput{
		SearchType:     string(resp.SearchType),
		Timestamp:      formatTimestamp(resp.Timestamp),
		LatencyMS:      resp.LatencyMS,
		QueryText:      resp.QueryText,
		SemanticWeight: resp.SemanticWeight,
		KeywordWeight:  resp.KeywordWeight,
		EmbeddingType:  resp.EmbeddingType,
		TopK:           resp.TopK,
		MetadataFilter: resp.MetadataFilter,
		Results:        toResultOutputs(resp.Results),
		ResultCount:    resp.ResultCount,
	}
	return textResult(FormatRanked(ToolHybridSearch, resp.QueryText, resp.Results)), out, nil
}

func (s *Server) handleCrossPackageContext(ctx context.Context, _ *mcp.CallToolRequest, in CrossPackageContextInput) (
	*mcp.CallToolResult,
	CrossPackageContextOutput,
	error,
) {
	var resp *search.CrossPackageContextResponse
	err := s.call(ctx, ToolCrossPackageContext, func(ctx context.Context) (err error) {
		resp, err = s.service.CrossPackageContext(ctx, search.CrossPackageContextRequest{
			QueryText:          in.QueryText,
			MaxPackages:        in.MaxPackages,
			MaxItemsPerPackage: in.MaxItemsPerPackage,
			MaxTokens:          in.MaxTokens,
			UseHybrid:          in.UseHybrid,
			SemanticWeight:     in.SemanticWeight,
			KeywordWeight:      in.KeywordWeight,
		})
		return err
	})
	if err != nil {
		return nil, CrossPackageContextOutput{}, err
	}

	out := CrossPackageContextOutput{
		SearchType:   string(resp.SearchType),
		Timestamp:    formatTimestamp(resp.Timestamp),
		LatencyMS:    resp.LatencyMS,
		QueryText:    resp.QueryText,
		Context:      resp.Context,
		Packages:     make([]PackageOutput, 0, len(resp.Packages)),
		PackageCount: resp.PackageCount,
		ItemCount:    resp.ItemCount,
		TokenCount:   resp.TokenCount,
		SearchMS:     resp.Timing.SearchMS,
		AssembleMS:   resp.Timing.AssembleMS,
	}
	for _, p := range resp.Packages {
		out.Packages = append(out.Packages, PackageOutput{
			PackageID: p.PackageID,
			Name:      p.Name,
			Type:      p.Type,
			BestScore: p.BestScore,
			ItemCount: p.ItemCount,
		})
	}
	return textResult(FormatContext(resp)), out, nil
}

func (s *Server) handleQueryExpansion(ctx context.Context, _ *mcp.CallToolRequest, in QueryExpansionInput) (
	*mcp.CallToolResult,
	QueryExpansionOutput,
	error,
) {
	var resp *search.QueryExpansionResponse
	err := s.call(ctx, ToolQueryExpansionSearch, func(ctx context.Context) (err error) {
		resp, err = s.service.QueryExpansionSearch(ctx, search.QueryExpansionRequest{
			QueryText:     in.QueryText,
			TopK:          in.TopK,
			MaxExpansions: in.MaxExpansions,
		})
		return err
	})
	if err != nil {
		return nil, QueryExpansionOutput{}, err
	}

	expanded := resp.ExpandedQueries
	if expanded == nil {
		expanded = []string{}
	}
	out := QueryExpansionOutput{
		SearchType:      string(resp.SearchType),
		Timestamp:       formatTimestamp(resp.Timestamp),
		LatencyMS:       resp.LatencyMS,
		QueryText:       resp.QueryText,
		ExpandedQueries: expanded,
		Degraded:        resp.Degraded,
		Results:         toResultOutputs(resp.Results),
		ResultCount:     resp.ResultCount,
	}
	return textResult(FormatRanked(ToolQueryExpansionSearch, resp.QueryText, resp.Results)), out, nil
}

func (s *Server) handleFacetedSearch(ctx context.Context, _ *mcp.CallToolRequest, in FacetedSearchInput) (
	*mcp.CallToolResult,
	FacetedSearchOutput,
	error,
) {
	if len(in.Facets) == 0 {
		return nil, FacetedSearchOutput{}, NewInvalidParamsError("facets parameter is required").Wire()
	}

	var resp *search.FacetedSearchResponse
	err := s.call(ctx, ToolFacetedSearch, func(ctx context.Context) (err error) {
		resp, err = s.service.FacetedSearch(ctx, search.FacetedSearchRequest{
			QueryText:    in.QueryText,
			Facets:       in.Facets,
			FacetWeights: in.FacetWeights,
			TopK:         in.TopK,
		})
		return err
	})
	if err != nil {
		return nil, FacetedSearchOutput{}, err
	}

	out := FacetedSearchOutput{
		SearchType:  string(resp.SearchType),
		Timestamp:   formatTimestamp(resp.Timestamp),
		LatencyMS:   resp.LatencyMS,
		QueryText:   resp.QueryText,
		Results:     toResultOutputs(resp.Results),
		Groups:      toGroupOutputs(resp.Groups),
		ResultCount: resp.ResultCount,
	}
	return textResult(FormatRanked(ToolFacetedSearch, resp.QueryText, resp.Results)), out, nil
}

// call runs one tool invocation under a request id, logging its outcome
// and mapping failures to protocol errors.
func (s *Server) call(ctx context.Context, tool string, fn func(ctx context.Context) error) error {
	requestID := uuid.NewString()
	start := time.Now()

	err := fn(ctx)
	latency := time.Since(start)
	if err == nil {
		s.logger.Debug("tool call",
			slog.String("tool", tool),
			slog.String("request_id", requestID),
			slog.Int64("latency_ms", latency.Milliseconds()))
		return nil
	}

	attrs := append([]any{
		"tool", tool,
		"request_id", requestID,
		"latency_ms", latency.Milliseconds(),
	}, terrors.FormatForLog(err)...)
	s.logger.Warn("tool call failed", attrs...)

	mapped := MapError(err)
	mapped.Data.RequestID = requestID
	return mapped.Wire()
}

func toResultOutputs(results []search.RankedResult) []ResultOutput {
	out := make([]ResultOutput, 0, len(results))
	for _, r := range results {
		out = append(out, ResultOutput{
			RecordID:        r.EmbeddingRecordID,
			PackageID:       r.PackageID,
			EmbeddingType:   r.EmbeddingType,
			TextContent:     r.TextContent,
			Metadata:        r.Metadata,
			SemanticScore:   r.SemanticScore,
			KeywordScore:    r.KeywordScore,
			CombinedScore:   r.CombinedScore,
			MatchedFacets:   r.MatchedFacets,
			FacetMatchScore: r.FacetMatchScore,
			QueryCount:      r.QueryCount,
		})
	}
	return out
}

// toGroupOutputs flattens facet groups, ordered by facet then value.
func toGroupOutputs(groups search.FacetGroups) []FacetGroupOutput {
	out := make([]FacetGroupOutput, 0)
	for _, facet := range sortedKeys(groups) {
		values := groups[facet]
		for _, value := range sortedKeys(values) {
			ids := make([]string, 0, len(values[value]))
			for _, r := range values[value] {
				ids = append(ids, r.EmbeddingRecordID)
			}
			out = append(out, FacetGroupOutput{Facet: facet, Value: value, RecordIDs: ids})
		}
	}
	return out
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
