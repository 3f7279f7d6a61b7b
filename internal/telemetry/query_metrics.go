// Package telemetry records search telemetry and traces.
// Query metrics are stored locally; traces export over OTLP only when an
// endpoint is configured.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MacroAcon/tavren/internal/keyword"
)

// =============================================================================
// Search Types
// =============================================================================

// SearchType identifies the operation that served a request.
type SearchType string

const (
	SearchTypeHybrid    SearchType = "hybrid"
	SearchTypeExpansion SearchType = "expansion"
	SearchTypeFaceted   SearchType = "faceted"
	SearchTypeContext   SearchType = "context"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// AllLatencyBuckets returns the buckets from fastest to slowest.
func AllLatencyBuckets() []LatencyBucket {
	return []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent represents a single served request.
type QueryEvent struct {
	Query       string
	SearchType  SearchType
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
	Failed      bool
}

// IsZeroResult reports whether a successful request returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return !e.Failed && e.ResultCount == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms returns the query terms worth counting: tokens of at least
// three characters that are not stop words.
func ExtractTerms(query string) []string {
	var terms []string
	for _, tok := range keyword.Tokenize(query) {
		if len(tok) < 3 || keyword.IsStopWord(tok) {
			continue
		}
		terms = append(terms, tok)
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is a request that matched nothing.
type ZeroResultQuery struct {
	Query      string     `json:"query"`
	SearchType SearchType `json:"search_type"`
	Timestamp  time.Time  `json:"timestamp"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable snapshot of query metrics.
type QueryMetricsSnapshot struct {
	SearchTypeCounts    map[SearchType]int64    `json:"search_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResultQuery       `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ErrorCount          int64                   `json:"error_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ExactRepeatRate returns the fraction of requests repeating a recent query.
func (s *QueryMetricsSnapshot) ExactRepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// =============================================================================
// Store Interface
// =============================================================================

// QueryMetricsStore defines persistence operations for query metrics.
// Count arguments are deltas since the previous flush.
type QueryMetricsStore interface {
	SaveSearchTypeCounts(ctx context.Context, date string, counts map[SearchType]int64) error
	GetSearchTypeCounts(ctx context.Context, from, to string) (map[SearchType]int64, error)
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	GetTopTerms(ctx context.Context, limit int) ([]TermCount, error)
	AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error
	GetZeroResultQueries(ctx context.Context, limit int) ([]ZeroResultQuery, error)
	SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // default 100
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables auto-flush
	Logger                *slog.Logger
	Now                   func() time.Time
}

// DefaultQueryMetricsConfig returns the default collector configuration.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetrics collects search telemetry. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	searchTypes      map[SearchType]int64
	topTerms         *lru.Cache[string, int64]
	zeroResults      *CircularBuffer[ZeroResultQuery]
	latencies        map[LatencyBucket]int64
	recentQueries    *lru.Cache[string, struct{}]
	totalQueries     int64
	zeroResultCount  int64
	errorCount       int64
	exactRepeatCount int64
	startTime        time.Time

	// Deltas not yet persisted.
	pendingTypes     map[SearchType]int64
	pendingTerms     map[string]int64
	pendingLatencies map[LatencyBucket]int64
	pendingZero      []ZeroResultQuery

	store  QueryMetricsStore
	config QueryMetricsConfig
	logger *slog.Logger
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueryMetrics creates a collector with the default configuration.
// A nil store keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with a custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		searchTypes:      make(map[SearchType]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[ZeroResultQuery](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		recentQueries:    recentQueries,
		startTime:        cfg.Now(),
		pendingTypes:     make(map[SearchType]int64),
		pendingTerms:     make(map[string]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		store:            store,
		config:           cfg,
		logger:           logger,
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				m.logger.Warn("telemetry flush failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one served request. Nil receivers are ignored.
func (m *QueryMetrics) Record(event QueryEvent) {
	if m == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.config.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.searchTypes[event.SearchType]++
	m.pendingTypes[event.SearchType]++

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	if event.Failed {
		m.errorCount++
		return
	}

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		zr := ZeroResultQuery{Query: event.Query, SearchType: event.SearchType, Timestamp: event.Timestamp}
		m.zeroResults.Add(zr)
		m.pendingZero = append(m.pendingZero, zr)
		m.zeroResultCount++
	}

	key := hashQuery(event.Query)
	if _, ok := m.recentQueries.Get(key); ok {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(key, struct{}{})
}

func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns current in-memory metrics.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make(map[SearchType]int64, len(m.searchTypes))
	for k, v := range m.searchTypes {
		types[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	topTerms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	return &QueryMetricsSnapshot{
		SearchTypeCounts:    types,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ErrorCount:          m.errorCount,
		ExactRepeatCount:    m.exactRepeatCount,
		Since:               m.startTime,
	}
}

// Flush persists counts accumulated since the previous flush.
// Deltas are restored when the store rejects them.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}

	m.mu.Lock()
	types, terms, latencies, zero := m.pendingTypes, m.pendingTerms, m.pendingLatencies, m.pendingZero
	m.pendingTypes = make(map[SearchType]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingZero = nil
	today := m.config.Now().Format("2006-01-02")
	m.mu.Unlock()

	err := m.persist(ctx, today, types, terms, latencies, zero)
	if err != nil {
		m.restore(types, terms, latencies, zero)
	}
	return err
}

func (m *QueryMetrics) persist(ctx context.Context, date string, types map[SearchType]int64, terms map[string]int64, latencies map[LatencyBucket]int64, zero []ZeroResultQuery) error {
	if len(types) > 0 {
		if err := m.store.SaveSearchTypeCounts(ctx, date, types); err != nil {
			return err
		}
		// Mark saved so a later failure does not double count.
		clear(types)
	}
	if len(terms) > 0 {
		if err := m.store.UpsertTermCounts(ctx, terms); err != nil {
			return err
		}
		clear(terms)
	}
	if len(latencies) > 0 {
		if err := m.store.SaveLatencyCounts(ctx, date, latencies); err != nil {
			return err
		}
		clear(latencies)
	}
	if len(zero) > 0 {
		if err := m.store.AddZeroResultQueries(ctx, zero); err != nil {
			return err
		}
	}
	return nil
}

func (m *QueryMetrics) restore(types map[SearchType]int64, terms map[string]int64, latencies map[LatencyBucket]int64, zero []ZeroResultQuery) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range types {
		m.pendingTypes[k] += v
	}
	for k, v := range terms {
		m.pendingTerms[k] += v
	}
	for k, v := range latencies {
		m.pendingLatencies[k] += v
	}
	m.pendingZero = append(zero, m.pendingZero...)
}

// Close stops auto-flush and persists remaining deltas.
func (m *QueryMetrics) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Flush(ctx)
}
