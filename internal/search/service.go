package search

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MacroAcon/tavren/internal/assemble"
	"github.com/MacroAcon/tavren/internal/cache"
	"github.com/MacroAcon/tavren/internal/config"
	terrors "github.com/MacroAcon/tavren/internal/errors"
	"github.com/MacroAcon/tavren/internal/store"
	"github.com/MacroAcon/tavren/internal/telemetry"
)

// Engines are the ranking components a Service dispatches to.
type Engines struct {
	Hybrid    *HybridScorer
	Expansion *ExpansionEngine
	Faceted   *FacetedEngine
	Assembler *assemble.Assembler
}

// Service exposes the retrieval operations as flat request/response
// records. Optional request fields fall back to configured defaults.
type Service struct {
	engines Engines
	search  config.SearchConfig
	context config.ContextConfig
	results *cache.Cache[[]RankedResult]
	metrics *telemetry.QueryMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithResultCache caches hybrid result sets. Nil disables caching.
func WithResultCache(c *cache.Cache[[]RankedResult]) ServiceOption {
	return func(s *Service) { s.results = c }
}

// WithMetrics records every request in m.
func WithMetrics(m *telemetry.QueryMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used for timestamps and latency.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(engines Engines, searchCfg config.SearchConfig, contextCfg config.ContextConfig, opts ...ServiceOption) *Service {
	s := &Service{
		engines: engines,
		search:  searchCfg,
		context: contextCfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Envelope is carried by every response.
type Envelope struct {
	SearchType telemetry.SearchType `json:"search_type"`
	Timestamp  time.Time            `json:"timestamp"`
	LatencyMS  int64                `json:"latency_ms"`
}

// =============================================================================
// hybrid_search
// =============================================================================

// HybridSearchRequest is the hybrid_search input.
type HybridSearchRequest struct {
	QueryText      string              `json:"query_text"`
	SemanticWeight *float64            `json:"semantic_weight,omitempty"`
	KeywordWeight  *float64            `json:"keyword_weight,omitempty"`
	EmbeddingType  string              `json:"embedding_type,omitempty"`
	TopK           int                 `json:"top_k,omitempty"`
	MetadataFilter map[string][]string `json:"metadata_filter,omitempty"`
}

// HybridSearchResponse echoes the effective parameters with the results.
type HybridSearchResponse struct {
	Envelope
	QueryText      string              `json:"query_text"`
	SemanticWeight float64             `json:"semantic_weight"`
	KeywordWeight  float64             `json:"keyword_weight"`
	EmbeddingType  string              `json:"embedding_type,omitempty"`
	TopK           int                 `json:"top_k"`
	MetadataFilter map[string][]string `json:"metadata_filter,omitempty"`
	Results        []RankedResult      `json:"results"`
	ResultCount    int                 `json:"result_count"`
}

// HybridSearch runs a hybrid search, serving repeats from the result cache.
func (s *Service) HybridSearch(ctx context.Context, req HybridSearchRequest) (*HybridSearchResponse, error) {
	resp := &HybridSearchResponse{
		QueryText:      req.QueryText,
		SemanticWeight: floatOr(req.SemanticWeight, s.search.SemanticWeight),
		KeywordWeight:  floatOr(req.KeywordWeight, s.search.KeywordWeight),
		EmbeddingType:  req.EmbeddingType,
		TopK:           intOr(req.TopK, s.search.DefaultTopK),
		MetadataFilter: req.MetadataFilter,
	}

	filter := store.Filter(maps.Clone(req.MetadataFilter))
	if req.EmbeddingType != "" {
		if filter == nil {
			filter = store.Filter{}
		}
		filter[store.FieldEmbeddingType] = []string{req.EmbeddingType}
	}
	params := HybridParams{
		Query:          req.QueryText,
		SemanticWeight: resp.SemanticWeight,
		KeywordWeight:  resp.KeywordWeight,
		TopK:           resp.TopK,
		Filter:         filter,
	}

	env, err := s.observe(ctx, telemetry.SearchTypeHybrid, req.QueryText, resp.TopK, func(ctx context.Context) (int, error) {
		results, err := s.cachedHybrid(ctx, params)
		if err != nil {
			return 0, err
		}
		resp.Results = results
		return len(results), nil
	})
	if err != nil {
		return nil, err
	}
	resp.Envelope = env
	resp.ResultCount = len(resp.Results)
	return resp, nil
}

func (s *Service) cachedHybrid(ctx context.Context, p HybridParams) ([]RankedResult, error) {
	if s.results == nil {
		return s.engines.Hybrid.Search(ctx, p)
	}
	// Validate before touching the cache so bad input never occupies a flight.
	if err := s.validateHybrid(p); err != nil {
		return nil, err
	}
	results, err := s.results.GetOrCompute(ctx, hybridKey(p), func(ctx context.Context) ([]RankedResult, error) {
		return s.engines.Hybrid.Search(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(results), nil
}

func (s *Service) validateHybrid(p HybridParams) error {
	if strings.TrimSpace(p.Query) == "" {
		return emptyQuery()
	}
	if err := validateTopK(p.TopK); err != nil {
		return err
	}
	if err := validateWeight("semantic_weight", p.SemanticWeight); err != nil {
		return err
	}
	return validateWeight("keyword_weight", p.KeywordWeight)
}

// hybridKey hashes the operation and its normalized parameters.
func hybridKey(p HybridParams) string {
	parts := []string{
		"hybrid",
		strings.TrimSpace(p.Query),
		strconv.FormatFloat(p.SemanticWeight, 'g', -1, 64),
		strconv.FormatFloat(p.KeywordWeight, 'g', -1, 64),
		strconv.Itoa(p.TopK),
	}
	active := p.Filter.Active()
	for _, k := range slices.Sorted(maps.Keys(active)) {
		values := slices.Clone(active[k])
		slices.Sort(values)
		parts = append(parts, k+"="+strings.Join(values, "\x1f"))
	}
	return cache.Key(parts...)
}

// =============================================================================
// cross_package_context
// =============================================================================

// CrossPackageContextRequest is the cross_package_context input.
type CrossPackageContextRequest struct {
	QueryText          string   `json:"query_text"`
	MaxPackages        int      `json:"max_packages,omitempty"`
	MaxItemsPerPackage int      `json:"max_items_per_package,omitempty"`
	MaxTokens          int      `json:"max_tokens,omitempty"`
	UseHybrid          *bool    `json:"use_hybrid,omitempty"`
	SemanticWeight     *float64 `json:"semantic_weight,omitempty"`
	KeywordWeight      *float64 `json:"keyword_weight,omitempty"`
}

// ContextTiming splits latency between retrieval and assembly.
type ContextTiming struct {
	SearchMS   int64 `json:"search_ms"`
	AssembleMS int64 `json:"assemble_ms"`
}

// CrossPackageContextResponse is the assembled context.
type CrossPackageContextResponse struct {
	Envelope
	QueryText    string                    `json:"query_text"`
	Context      string                    `json:"context"`
	Packages     []assemble.PackageSummary `json:"packages"`
	PackageCount int                       `json:"package_count"`
	ItemCount    int                       `json:"item_count"`
	TokenCount   int                       `json:"token_count"`
	Timing       ContextTiming             `json:"timing"`
}

// CrossPackageContext retrieves candidates and packs them under a token
// budget. Without use_hybrid the ranking is purely semantic.
func (s *Service) CrossPackageContext(ctx context.Context, req CrossPackageContextRequest) (*CrossPackageContextResponse, error) {
	params := assemble.Params{
		MaxPackages:        intOr(req.MaxPackages, s.context.MaxPackages),
		MaxItemsPerPackage: intOr(req.MaxItemsPerPackage, s.context.MaxItemsPerPackage),
		MaxTokens:          intOr(req.MaxTokens, s.context.MaxTokens),
	}
	if params.MaxPackages < 0 || params.MaxItemsPerPackage < 0 || params.MaxTokens < 0 {
		return nil, terrors.ValidationError("context limits must not be negative", nil)
	}

	semantic, kw := 1.0, 0.0
	if req.UseHybrid == nil || *req.UseHybrid {
		semantic = floatOr(req.SemanticWeight, s.search.SemanticWeight)
		kw = floatOr(req.KeywordWeight, s.search.KeywordWeight)
	}
	// Twice the renderable item count gives packages depth to choose from.
	topK := max(params.MaxPackages*params.MaxItemsPerPackage*2, 1)

	resp := &CrossPackageContextResponse{QueryText: req.QueryText}
	env, err := s.observe(ctx, telemetry.SearchTypeContext, req.QueryText, topK, func(ctx context.Context) (int, error) {
		searchStart := s.now()
		results, err := s.cachedHybrid(ctx, HybridParams{
			Query:          req.QueryText,
			SemanticWeight: semantic,
			KeywordWeight:  kw,
			TopK:           topK,
		})
		if err != nil {
			return 0, err
		}
		resp.Timing.SearchMS = s.now().Sub(searchStart).Milliseconds()

		assembleStart := s.now()
		assembled, err := s.engines.Assembler.Assemble(ctx, toItems(results), params)
		if err != nil {
			return 0, err
		}
		resp.Timing.AssembleMS = s.now().Sub(assembleStart).Milliseconds()

		resp.Context = assembled.Context
		resp.Packages = assembled.Packages
		resp.PackageCount = assembled.PackageCount
		resp.ItemCount = assembled.ItemCount
		resp.TokenCount = assembled.TokenCount
		return assembled.ItemCount, nil
	})
	if err != nil {
		return nil, err
	}
	resp.Envelope = env
	return resp, nil
}

func toItems(results []RankedResult) []assemble.Item {
	items := make([]assemble.Item, len(results))
	for i, r := range results {
		items[i] = assemble.Item{
			RecordID:      r.EmbeddingRecordID,
			PackageID:     r.PackageID,
			EmbeddingType: r.EmbeddingType,
			Text:          r.TextContent,
			Score:         r.CombinedScore,
		}
	}
	return items
}

// =============================================================================
// query_expansion_search
// =============================================================================

// QueryExpansionRequest is the query_expansion_search input.
type QueryExpansionRequest struct {
	QueryText     string `json:"query_text"`
	TopK          int    `json:"top_k,omitempty"`
	MaxExpansions int    `json:"max_expansions,omitempty"`
}

// QueryExpansionResponse lists the phrasings searched and the merged ranking.
type QueryExpansionResponse struct {
	Envelope
	QueryText       string         `json:"query_text"`
	ExpandedQueries []string       `json:"expanded_queries"`
	Degraded        bool           `json:"degraded"`
	TopK            int            `json:"top_k"`
	MaxExpansions   int            `json:"max_expansions"`
	Results         []RankedResult `json:"results"`
	ResultCount     int            `json:"result_count"`
}

// QueryExpansionSearch searches the query and its variants.
func (s *Service) QueryExpansionSearch(ctx context.Context, req QueryExpansionRequest) (*QueryExpansionResponse, error) {
	resp := &QueryExpansionResponse{
		QueryText:     req.QueryText,
		TopK:          intOr(req.TopK, s.search.DefaultTopK),
		MaxExpansions: intOr(req.MaxExpansions, s.search.MaxExpansions),
	}

	env, err := s.observe(ctx, telemetry.SearchTypeExpansion, req.QueryText, resp.TopK, func(ctx context.Context) (int, error) {
		res, err := s.engines.Expansion.Search(ctx, ExpansionParams{
			Query:         req.QueryText,
			MaxExpansions: resp.MaxExpansions,
			TopK:          resp.TopK,
		})
		if err != nil {
			return 0, err
		}
		resp.ExpandedQueries = res.Queries
		resp.Degraded = res.Degraded
		resp.Results = res.Results
		return len(res.Results), nil
	})
	if err != nil {
		return nil, err
	}
	resp.Envelope = env
	resp.ResultCount = len(resp.Results)
	return resp, nil
}

// =============================================================================
// faceted_search
// =============================================================================

// FacetedSearchRequest is the faceted_search input.
type FacetedSearchRequest struct {
	QueryText    string              `json:"query_text"`
	Facets       map[string][]string `json:"facets"`
	FacetWeights map[string]float64  `json:"facet_weights,omitempty"`
	TopK         int                 `json:"top_k,omitempty"`
}

// FacetedSearchResponse carries the ranking and its facet groups.
type FacetedSearchResponse struct {
	Envelope
	QueryText    string              `json:"query_text"`
	Facets       map[string][]string `json:"facets"`
	FacetWeights map[string]float64  `json:"facet_weights,omitempty"`
	TopK         int                 `json:"top_k"`
	Results      []RankedResult      `json:"results"`
	Groups       FacetGroups         `json:"groups"`
	ResultCount  int                 `json:"result_count"`
}

// FacetedSearch ranks with facet re-weighting and groups the result.
func (s *Service) FacetedSearch(ctx context.Context, req FacetedSearchRequest) (*FacetedSearchResponse, error) {
	resp := &FacetedSearchResponse{
		QueryText:    req.QueryText,
		Facets:       req.Facets,
		FacetWeights: req.FacetWeights,
		TopK:         intOr(req.TopK, s.search.DefaultTopK),
	}

	env, err := s.observe(ctx, telemetry.SearchTypeFaceted, req.QueryText, resp.TopK, func(ctx context.Context) (int, error) {
		res, err := s.engines.Faceted.Search(ctx, FacetedParams{
			Query:        req.QueryText,
			Facets:       req.Facets,
			FacetWeights: req.FacetWeights,
			TopK:         resp.TopK,
		})
		if err != nil {
			return 0, err
		}
		resp.Results = res.Results
		resp.Groups = res.Groups
		return len(res.Results), nil
	})
	if err != nil {
		return nil, err
	}
	resp.Envelope = env
	resp.ResultCount = len(resp.Results)
	return resp, nil
}

// =============================================================================
// Observability
// =============================================================================

// observe wraps one operation in a span, a metrics event and a log line.
func (s *Service) observe(ctx context.Context, st telemetry.SearchType, query string, topK int, fn func(ctx context.Context) (int, error)) (Envelope, error) {
	start := s.now()
	ctx, span := telemetry.StartSearchSpan(ctx, st, topK)
	defer span.End()

	n, err := fn(ctx)
	latency := s.now().Sub(start)

	s.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		SearchType:  st,
		ResultCount: n,
		Latency:     latency,
		Timestamp:   start,
		Failed:      err != nil,
	})

	if err != nil {
		telemetry.RecordError(span, err)
		attrs := append([]any{
			slog.String("search_type", string(st)),
			slog.Int64("latency_ms", latency.Milliseconds()),
		}, terrors.FormatForLog(err)...)
		s.logger.Warn("search_failed", attrs...)
		return Envelope{}, err
	}

	telemetry.RecordResult(span, n)
	s.logger.Info("search_completed",
		slog.String("search_type", string(st)),
		slog.Int("top_k", topK),
		slog.Int("result_count", n),
		slog.Int64("latency_ms", latency.Milliseconds()))

	return Envelope{SearchType: st, Timestamp: start.UTC(), LatencyMS: latency.Milliseconds()}, nil
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
