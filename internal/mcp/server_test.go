package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MacroAcon/tavren/internal/assemble"
	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/search"
	"github.com/MacroAcon/tavren/internal/telemetry"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeService implements SearchService with func fields.
type fakeService struct {
	hybridFn    func(ctx context.Context, req search.HybridSearchRequest) (*search.HybridSearchResponse, error)
	contextFn   func(ctx context.Context, req search.CrossPackageContextRequest) (*search.CrossPackageContextResponse, error)
	expansionFn func(ctx context.Context, req search.QueryExpansionRequest) (*search.QueryExpansionResponse, error)
	facetedFn   func(ctx context.Context, req search.FacetedSearchRequest) (*search.FacetedSearchResponse, error)
}

func (f *fakeService) HybridSearch(ctx context.Context, req search.HybridSearchRequest) (*search.HybridSearchResponse, error) {
	if f.hybridFn != nil {
		return f.hybridFn(ctx, req)
	}
	return &search.HybridSearchResponse{
		Envelope:  search.Envelope{SearchType: telemetry.SearchTypeHybrid, Timestamp: fixedTime},
		QueryText: req.QueryText,
	}, nil
}

func (f *fakeService) CrossPackageContext(ctx context.Context, req search.CrossPackageContextRequest) (*search.CrossPackageContextResponse, error) {
	return f.contextFn(ctx, req)
}

func (f *fakeService) QueryExpansionSearch(ctx context.Context, req search.QueryExpansionRequest) (*search.QueryExpansionResponse, error) {
	return f.expansionFn(ctx, req)
}

func (f *fakeService) FacetedSearch(ctx context.Context, req search.FacetedSearchRequest) (*search.FacetedSearchResponse, error) {
	return f.facetedFn(ctx, req)
}

var _ SearchService = (*search.Service)(nil)

func heartResult() search.RankedResult {
	return search.RankedResult{
		EmbeddingRecordID: "r1",
		PackageID:         "wearable",
		EmbeddingType:     "content",
		TextContent:       "resting heart rate 58 bpm",
		SemanticScore:     0.9,
		KeywordScore:      0.5,
		CombinedScore:     0.78,
	}
}

func newTestServer(t *testing.T, svc SearchService, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(svc, opts...)
	require.NoError(t, err)
	return s
}

func requireWireError(t *testing.T, err error, code int64) ErrorData {
	t.Helper()
	var wire *jsonrpc.Error
	require.True(t, errors.As(err, &wire), "expected protocol error, got %v", err)
	assert.Equal(t, code, wire.Code)
	var data ErrorData
	require.NoError(t, json.Unmarshal(wire.Data, &data))
	return data
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestHandleHybridSearch(t *testing.T) {
	// Given a service returning one result
	var got search.HybridSearchRequest
	svc := &fakeService{hybridFn: func(_ context.Context, req search.HybridSearchRequest) (*search.HybridSearchResponse, error) {
		got = req
		return &search.HybridSearchResponse{
			Envelope:       search.Envelope{SearchType: telemetry.SearchTypeHybrid, Timestamp: fixedTime, LatencyMS: 12},
			QueryText:      req.QueryText,
			SemanticWeight: 0.6,
			KeywordWeight:  0.4,
			EmbeddingType:  req.EmbeddingType,
			TopK:           5,
			MetadataFilter: req.MetadataFilter,
			Results:        []search.RankedResult{heartResult()},
			ResultCount:    1,
		}, nil
	}}
	s := newTestServer(t, svc)
	sw := 0.6

	// When the tool is called
	res, out, err := s.handleHybridSearch(context.Background(), nil, HybridSearchInput{
		QueryText:      "heart rate",
		SemanticWeight: &sw,
		TopK:           5,
		EmbeddingType:  "content",
		MetadataFilter: map[string][]string{"type": {"health"}},
	})

	// Then the request is forwarded and the response converted
	require.NoError(t, err)
	assert.Equal(t, "heart rate", got.QueryText)
	assert.Equal(t, &sw, got.SemanticWeight)
	assert.Nil(t, got.KeywordWeight)
	assert.Equal(t, "content", got.EmbeddingType)
	assert.Equal(t, []string{"health"}, got.MetadataFilter["type"])

	assert.Equal(t, "hybrid", out.SearchType)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Timestamp)
	assert.Equal(t, int64(12), out.LatencyMS)
	assert.Equal(t, "content", out.EmbeddingType)
	assert.Equal(t, map[string][]string{"type": {"health"}}, out.MetadataFilter)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "r1", out.Results[0].RecordID)
	assert.InDelta(t, 0.78, out.Results[0].CombinedScore, 1e-9)

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "resting heart rate")
}

func TestHandleHybridSearch_EmptyResultsAreNotNil(t *testing.T) {
	s := newTestServer(t, &fakeService{})

	_, out, err := s.handleHybridSearch(context.Background(), nil, HybridSearchInput{QueryText: "nothing"})

	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestHandleHybridSearch_ValidationError(t *testing.T) {
	svc := &fakeService{hybridFn: func(context.Context, search.HybridSearchRequest) (*search.HybridSearchResponse, error) {
		return nil, terrors.InvalidWeight("semantic_weight", 1.5)
	}}
	s := newTestServer(t, svc)

	_, _, err := s.handleHybridSearch(context.Background(), nil, HybridSearchInput{QueryText: "x"})

	data := requireWireError(t, err, ErrCodeInvalidParams)
	assert.Equal(t, "InvalidWeight", data.Kind)
	assert.False(t, data.Retryable)
	assert.NotEmpty(t, data.RequestID)
}

func TestHandleHybridSearch_ProviderError(t *testing.T) {
	svc := &fakeService{hybridFn: func(context.Context, search.HybridSearchRequest) (*search.HybridSearchResponse, error) {
		return nil, terrors.New(terrors.ErrCodeProviderUnavailable, "embedding provider unavailable", errors.New("upstream body"))
	}}
	s := newTestServer(t, svc)

	_, _, err := s.handleHybridSearch(context.Background(), nil, HybridSearchInput{QueryText: "x"})

	data := requireWireError(t, err, ErrCodeInternalError)
	assert.Equal(t, "EmbeddingProviderError", data.Kind)
	assert.True(t, data.Retryable)
	assert.NotContains(t, data.Message, "upstream body")
}

func TestHandleCrossPackageContext(t *testing.T) {
	useHybrid := false
	var got search.CrossPackageContextRequest
	svc := &fakeService{contextFn: func(_ context.Context, req search.CrossPackageContextRequest) (*search.CrossPackageContextResponse, error) {
		got = req
		return &search.CrossPackageContextResponse{
			Envelope:     search.Envelope{SearchType: telemetry.SearchTypeContext, Timestamp: fixedTime},
			QueryText:    req.QueryText,
			Context:      "## Package: Wearable (id: wearable)\n\n[1] (relevance: 0.780)\nresting heart rate\n\n",
			Packages:     []assemble.PackageSummary{{PackageID: "wearable", Name: "Wearable", BestScore: 0.78, ItemCount: 1}},
			PackageCount: 1,
			ItemCount:    1,
			TokenCount:   20,
			Timing:       search.ContextTiming{SearchMS: 3, AssembleMS: 1},
		}, nil
	}}
	s := newTestServer(t, svc)

	res, out, err := s.handleCrossPackageContext(context.Background(), nil, CrossPackageContextInput{
		QueryText:   "heart",
		MaxPackages: 2,
		MaxTokens:   500,
		UseHybrid:   &useHybrid,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxPackages)
	assert.Equal(t, 500, got.MaxTokens)
	require.NotNil(t, got.UseHybrid)
	assert.False(t, *got.UseHybrid)

	assert.Equal(t, "context", out.SearchType)
	assert.Equal(t, 1, out.ItemCount)
	assert.Equal(t, int64(3), out.SearchMS)
	require.Len(t, out.Packages, 1)
	assert.Equal(t, "Wearable", out.Packages[0].Name)

	text := res.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "1 items from 1 packages")
	assert.Contains(t, text, "## Package: Wearable")
}

func TestHandleCrossPackageContext_EmptyResultSet(t *testing.T) {
	svc := &fakeService{contextFn: func(context.Context, search.CrossPackageContextRequest) (*search.CrossPackageContextResponse, error) {
		return nil, terrors.New(terrors.ErrCodeEmptyResultSet, "no ranked results to assemble", nil)
	}}
	s := newTestServer(t, svc)

	_, _, err := s.handleCrossPackageContext(context.Background(), nil, CrossPackageContextInput{QueryText: "x"})

	data := requireWireError(t, err, ErrCodeInvalidParams)
	assert.Equal(t, "EmptyResultSet", data.Kind)
}

func TestHandleQueryExpansion(t *testing.T) {
	r := heartResult()
	r.QueryCount = 2
	svc := &fakeService{expansionFn: func(_ context.Context, req search.QueryExpansionRequest) (*search.QueryExpansionResponse, error) {
		assert.Equal(t, 2, req.MaxExpansions)
		return &search.QueryExpansionResponse{
			Envelope:        search.Envelope{SearchType: telemetry.SearchTypeExpansion, Timestamp: fixedTime},
			QueryText:       req.QueryText,
			ExpandedQueries: []string{"heart rate", "pulse rate"},
			Results:         []search.RankedResult{r},
			ResultCount:     1,
		}, nil
	}}
	s := newTestServer(t, svc)

	res, out, err := s.handleQueryExpansion(context.Background(), nil, QueryExpansionInput{QueryText: "heart rate", MaxExpansions: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"heart rate", "pulse rate"}, out.ExpandedQueries)
	assert.False(t, out.Degraded)
	assert.Equal(t, 2, out.Results[0].QueryCount)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "found by 2 phrasings")
}

func TestHandleFacetedSearch(t *testing.T) {
	r := heartResult()
	r.MatchedFacets = 1
	svc := &fakeService{facetedFn: func(_ context.Context, req search.FacetedSearchRequest) (*search.FacetedSearchResponse, error) {
		return &search.FacetedSearchResponse{
			Envelope:  search.Envelope{SearchType: telemetry.SearchTypeFaceted, Timestamp: fixedTime},
			QueryText: req.QueryText,
			Facets:    req.Facets,
			Results:   []search.RankedResult{r},
			Groups: search.FacetGroups{
				"type":   {"health": {r}},
				"device": {"watch": {r}, "band": {}},
			},
			ResultCount: 1,
		}, nil
	}}
	s := newTestServer(t, svc)

	_, out, err := s.handleFacetedSearch(context.Background(), nil, FacetedSearchInput{
		QueryText: "heart",
		Facets:    map[string][]string{"type": {"health"}},
	})

	require.NoError(t, err)
	require.Len(t, out.Groups, 3)
	assert.Equal(t, FacetGroupOutput{Facet: "device", Value: "band", RecordIDs: []string{}}, out.Groups[0])
	assert.Equal(t, FacetGroupOutput{Facet: "device", Value: "watch", RecordIDs: []string{"r1"}}, out.Groups[1])
	assert.Equal(t, FacetGroupOutput{Facet: "type", Value: "health", RecordIDs: []string{"r1"}}, out.Groups[2])
}

func TestHandleFacetedSearch_RequiresFacets(t *testing.T) {
	s := newTestServer(t, &fakeService{})

	_, _, err := s.handleFacetedSearch(context.Background(), nil, FacetedSearchInput{QueryText: "heart"})

	data := requireWireError(t, err, ErrCodeInvalidParams)
	assert.Equal(t, "InvalidInput", data.Kind)
}

func TestServer_OverInMemoryTransport(t *testing.T) {
	// Given a server connected to a client in memory
	ctx := context.Background()
	s := newTestServer(t, &fakeService{hybridFn: func(_ context.Context, req search.HybridSearchRequest) (*search.HybridSearchResponse, error) {
		return &search.HybridSearchResponse{
			Envelope:    search.Envelope{SearchType: telemetry.SearchTypeHybrid, Timestamp: fixedTime},
			QueryText:   req.QueryText,
			TopK:        10,
			Results:     []search.RankedResult{heartResult()},
			ResultCount: 1,
		}, nil
	}})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	// When listing tools
	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)

	// Then the four retrieval tools are registered
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolHybridSearch, ToolCrossPackageContext, ToolQueryExpansionSearch, ToolFacetedSearch}, names)

	// And a hybrid search round-trips through the protocol
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolHybridSearch,
		Arguments: map[string]any{"query_text": "heart rate"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "resting heart rate")
}
