package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/output"
	"github.com/MacroAcon/tavren/internal/search"
)

// Search modes.
const (
	modeHybrid    = "hybrid"
	modeExpansion = "expansion"
	modeFaceted   = "faceted"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode           string
	topK           int
	semanticWeight float64
	keywordWeight  float64
	embeddingType  string
	filters        []string
	facets         []string
	facetWeights   []string
	maxExpansions  int
	jsonOutput     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored records",
		Long: `Search stored records with hybrid, expansion or faceted ranking.

Examples:
  tavren search "resting heart rate"
  tavren search "heart rate" --filter type=health --top-k 5
  tavren search "pulse" --mode expansion --max-expansions 3
  tavren search "sleep" --mode faceted --facet type=health,fitness --facet-weight type=2
  tavren search "spending" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			var sw, kw *float64
			if cmd.Flags().Changed("semantic-weight") {
				sw = &opts.semanticWeight
			}
			if cmd.Flags().Changed("keyword-weight") {
				kw = &opts.keywordWeight
			}
			return runSearch(cmd.Context(), cmd, query, opts, sw, kw)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", modeHybrid, "Ranking mode: hybrid, expansion, faceted")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.semanticWeight, "semantic-weight", 0, "Weight of vector similarity in [0,1]")
	cmd.Flags().Float64Var(&opts.keywordWeight, "keyword-weight", 0, "Weight of keyword overlap in [0,1]")
	cmd.Flags().StringVarP(&opts.embeddingType, "type", "t", "", "Restrict to one embedding type (hybrid mode)")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Metadata filter key=v1,v2 (repeatable, hybrid mode)")
	cmd.Flags().StringArrayVar(&opts.facets, "facet", nil, "Facet key=v1,v2 (repeatable, faceted mode)")
	cmd.Flags().StringArrayVar(&opts.facetWeights, "facet-weight", nil, "Facet weight key=w (repeatable, faceted mode)")
	cmd.Flags().IntVar(&opts.maxExpansions, "max-expansions", 0, "Phrasings including the original (expansion mode)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions, sw, kw *float64) error {
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

	switch opts.mode {
	case modeHybrid:
		filter, err := parseValues("filter", opts.filters)
		if err != nil {
			return err
		}
		resp, err := a.service.HybridSearch(ctx, search.HybridSearchRequest{
			QueryText:      query,
			SemanticWeight: sw,
			KeywordWeight:  kw,
			EmbeddingType:  opts.embeddingType,
			TopK:           opts.topK,
			MetadataFilter: filter,
		})
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return out.JSON(resp)
		}
		printRanked(out, query, resp.Envelope, resp.Results)
		return nil

	case modeExpansion:
		resp, err := a.service.QueryExpansionSearch(ctx, search.QueryExpansionRequest{
			QueryText:     query,
			TopK:          opts.topK,
			MaxExpansions: opts.maxExpansions,
		})
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return out.JSON(resp)
		}
		out.KeyValue("phrasings", strings.Join(resp.ExpandedQueries, " | "))
		if resp.Degraded {
			out.Warning("query expansion unavailable; searched the original query only")
		}
		printRanked(out, query, resp.Envelope, resp.Results)
		return nil

	case modeFaceted:
		facets, err := parseValues("facet", opts.facets)
		if err != nil {
			return err
		}
		weights, err := parseWeights(opts.facetWeights)
		if err != nil {
			return err
		}
		resp, err := a.service.FacetedSearch(ctx, search.FacetedSearchRequest{
			QueryText:    query,
			Facets:       facets,
			FacetWeights: weights,
			TopK:         opts.topK,
		})
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			return out.JSON(resp)
		}
		printRanked(out, query, resp.Envelope, resp.Results)
		return nil

	default:
		return terrors.ValidationError(fmt.Sprintf("unknown search mode %q", opts.mode), nil).
			WithSuggestion("Use --mode hybrid, expansion or faceted")
	}
}

func printRanked(out *output.Writer, query string, env search.Envelope, results []search.RankedResult) {
	out.Header(fmt.Sprintf("%s search for %q: %d results (%d ms)", env.SearchType, query, len(results), env.LatencyMS))
	if len(results) == 0 {
		out.Status("", "No matching records.")
		return
	}
	for i, r := range results {
		out.Result(i+1, r.CombinedScore, r.EmbeddingRecordID, r.PackageID, r.TextContent)
	}
}

// parseValues parses repeated key=v1,v2 flags into an allow-list map.
func parseValues(flag string, pairs []string) (map[string][]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(pairs))
	for _, pair := range pairs {
		key, values, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || strings.TrimSpace(values) == "" {
			return nil, terrors.ValidationError(fmt.Sprintf("invalid --%s %q", flag, pair), nil).
				WithSuggestion(fmt.Sprintf("Use --%s key=value[,value]", flag))
		}
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out[key] = append(out[key], v)
			}
		}
	}
	return out, nil
}

// parseWeights parses repeated key=weight flags.
func parseWeights(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if !ok || strings.TrimSpace(key) == "" || err != nil {
			return nil, terrors.ValidationError(fmt.Sprintf("invalid --facet-weight %q", pair), err).
				WithSuggestion("Use --facet-weight key=number")
		}
		out[strings.TrimSpace(key)] = w
	}
	return out, nil
}
