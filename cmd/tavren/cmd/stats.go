package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/MacroAcon/tavren/internal/output"
	"github.com/MacroAcon/tavren/internal/telemetry"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	Days                int                         `json:"days"`
	TotalQueries        int64                       `json:"total_queries"`
	SearchTypeCounts    map[string]int64            `json:"search_type_counts"`
	LatencyDistribution map[string]int64            `json:"latency_distribution"`
	TopTerms            []telemetry.TermCount       `json:"top_terms"`
	ZeroResultQueries   []telemetry.ZeroResultQuery `json:"zero_result_queries"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query statistics",
		Long: `Display recorded query telemetry:
  - searches per search_type
  - latency distribution
  - most frequent query terms
  - recent zero-result queries`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, days, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of terms and zero-result queries to show")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days, limit int) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := output.New(cmd.OutOrStdout())
	if a.recorded == nil {
		out.Warning("Query metrics are disabled (telemetry.metrics: false)")
		return nil
	}

	stats, err := collectStats(ctx, a.recorded, time.Now(), days, limit)
	if err != nil {
		return fmt.Errorf("failed to read query stats: %w", err)
	}

	if jsonOutput {
		return out.JSON(stats)
	}
	printStats(out, stats)
	return nil
}

func collectStats(ctx context.Context, st telemetry.QueryMetricsStore, now time.Time, days, limit int) (*StatsOutput, error) {
	if days < 1 {
		days = 1
	}
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	types, err := st.GetSearchTypeCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	latencies, err := st.GetLatencyCounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	terms, err := st.GetTopTerms(ctx, limit)
	if err != nil {
		return nil, err
	}
	zero, err := st.GetZeroResultQueries(ctx, limit)
	if err != nil {
		return nil, err
	}

	stats := &StatsOutput{
		Days:                days,
		SearchTypeCounts:    make(map[string]int64, len(types)),
		LatencyDistribution: make(map[string]int64, len(latencies)),
		TopTerms:            terms,
		ZeroResultQueries:   zero,
	}
	for t, n := range types {
		stats.SearchTypeCounts[string(t)] = n
		stats.TotalQueries += n
	}
	for b, n := range latencies {
		stats.LatencyDistribution[string(b)] = n
	}
	if stats.TopTerms == nil {
		stats.TopTerms = []telemetry.TermCount{}
	}
	if stats.ZeroResultQueries == nil {
		stats.ZeroResultQueries = []telemetry.ZeroResultQuery{}
	}
	return stats, nil
}

func printStats(out *output.Writer, stats *StatsOutput) {
	out.Header(fmt.Sprintf("Query statistics, last %d days", stats.Days))
	out.KeyValue("total_queries", stats.TotalQueries)
	for _, t := range slices.Sorted(maps.Keys(stats.SearchTypeCounts)) {
		out.KeyValue(t, stats.SearchTypeCounts[t])
	}

	out.Newline()
	out.Header("Latency")
	for _, b := range telemetry.AllLatencyBuckets() {
		if n, ok := stats.LatencyDistribution[string(b)]; ok {
			out.KeyValue(string(b), n)
		}
	}

	out.Newline()
	out.Header("Top terms")
	if len(stats.TopTerms) == 0 {
		out.Status("", "none recorded")
	}
	for _, tc := range stats.TopTerms {
		out.KeyValue(tc.Term, tc.Count)
	}

	out.Newline()
	out.Header("Recent zero-result queries")
	if len(stats.ZeroResultQueries) == 0 {
		out.Status("", "none recorded")
	}
	for _, zr := range stats.ZeroResultQueries {
		out.Status("", fmt.Sprintf("%s  [%s] %q", zr.Timestamp.Local().Format(time.DateTime), zr.SearchType, zr.Query))
	}
}
