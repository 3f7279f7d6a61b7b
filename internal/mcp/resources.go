package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MacroAcon/tavren/internal/telemetry"
)

// QueryMetricsURI addresses the query metrics resource.
const QueryMetricsURI = "tavren://query_metrics"

// QueryMetricsOutput is the JSON body of the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary         `json:"summary"`
	SearchTypeCounts    map[string]int64            `json:"search_type_counts"`
	TopTerms            []telemetry.TermCount       `json:"top_terms"`
	ZeroResultQueries   []telemetry.ZeroResultQuery `json:"zero_result_queries"`
	LatencyDistribution map[string]int64            `json:"latency_distribution"`
}

// QueryMetricsSummary holds the headline numbers.
type QueryMetricsSummary struct {
	TotalQueries    int64   `json:"total_queries"`
	ErrorCount      int64   `json:"error_count"`
	ZeroResultPct   float64 `json:"zero_result_pct"`
	ExactRepeatRate float64 `json:"exact_repeat_rate"`
	Since           string  `json:"since"`
}

func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "query_metrics",
		URI:         QueryMetricsURI,
		Description: "Search volume by type, latency distribution, frequent terms and recent zero-result queries",
		MIMEType:    "application/json",
	}, s.readQueryMetrics)
}

func (s *Server) readQueryMetrics(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req != nil && req.Params != nil && req.Params.URI != QueryMetricsURI {
		return nil, NewResourceNotFoundError(req.Params.URI).Wire()
	}

	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return nil, NewResourceNotFoundError(QueryMetricsURI).Wire()
	}

	content, err := json.MarshalIndent(buildMetricsOutput(metrics.Snapshot()), "", "  ")
	if err != nil {
		return nil, MapError(err).Wire()
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      QueryMetricsURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}

func buildMetricsOutput(snap *telemetry.QueryMetricsSnapshot) QueryMetricsOutput {
	out := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:    snap.TotalQueries,
			ErrorCount:      snap.ErrorCount,
			ZeroResultPct:   snap.ZeroResultPercentage(),
			ExactRepeatRate: snap.ExactRepeatRate(),
			Since:           formatTimestamp(snap.Since),
		},
		SearchTypeCounts:    make(map[string]int64, len(snap.SearchTypeCounts)),
		TopTerms:            snap.TopTerms,
		ZeroResultQueries:   snap.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
	}
	for st, n := range snap.SearchTypeCounts {
		out.SearchTypeCounts[string(st)] = n
	}
	for b, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(b)] = n
	}
	return out
}
