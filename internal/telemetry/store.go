package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// zeroResultRetention caps the persisted zero-result history.
const zeroResultRetention = 100

// SQLiteMetricsStore implements QueryMetricsStore on a SQLite database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore wraps db. Call InitTelemetrySchema first.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_type_stats (
		date TEXT NOT NULL,
		search_type TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, search_type)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		search_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveSearchTypeCounts adds daily search type counts.
func (s *SQLiteMetricsStore) SaveSearchTypeCounts(ctx context.Context, date string, counts map[SearchType]int64) error {
	return s.upsertCounts(ctx, `
		INSERT INTO search_type_stats (date, search_type, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, search_type) DO UPDATE SET count = count + excluded.count
	`, date, toStringCounts(counts))
}

// GetSearchTypeCounts sums counts over an inclusive date range.
func (s *SQLiteMetricsStore) GetSearchTypeCounts(ctx context.Context, from, to string) (map[SearchType]int64, error) {
	raw, err := s.sumCounts(ctx, `
		SELECT search_type, SUM(count)
		FROM search_type_stats
		WHERE date >= ? AND date <= ?
		GROUP BY search_type
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("search type counts: %w", err)
	}
	counts := make(map[SearchType]int64, len(raw))
	for k, v := range raw {
		counts[SearchType(k)] = v
	}
	return counts, nil
}

// UpsertTermCounts adds term frequency counts.
func (s *SQLiteMetricsStore) UpsertTermCounts(ctx context.Context, terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.ExecContext(ctx, term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms retrieves the top N terms by frequency.
func (s *SQLiteMetricsStore) GetTopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQueries appends queries and trims history to the newest 100.
func (s *SQLiteMetricsStore) AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error {
	if len(queries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range queries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO zero_result_queries (query, search_type, timestamp)
			VALUES (?, ?, ?)
		`, q.Query, string(q.SearchType), q.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, zeroResultRetention); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetZeroResultQueries retrieves recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(ctx context.Context, limit int) ([]ZeroResultQuery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query, search_type, timestamp
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []ZeroResultQuery
	for rows.Next() {
		var (
			q     ZeroResultQuery
			st    string
			nanos int64
		)
		if err := rows.Scan(&q.Query, &st, &nanos); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		q.SearchType = SearchType(st)
		q.Timestamp = time.Unix(0, nanos).UTC()
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts adds daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error {
	return s.upsertCounts(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, date, toStringCounts(counts))
}

// GetLatencyCounts sums the latency distribution over a date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error) {
	raw, err := s.sumCounts(ctx, `
		SELECT bucket, SUM(count)
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("latency counts: %w", err)
	}
	counts := make(map[LatencyBucket]int64, len(raw))
	for k, v := range raw {
		counts[LatencyBucket(k)] = v
	}
	return counts, nil
}

// Close is a no-op; the database belongs to the caller.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}

func (s *SQLiteMetricsStore) upsertCounts(ctx context.Context, query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, count := range counts {
		if _, err := stmt.ExecContext(ctx, date, key, count); err != nil {
			return fmt.Errorf("insert count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteMetricsStore) sumCounts(ctx context.Context, query, from, to string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func toStringCounts[K ~string](counts map[K]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}
