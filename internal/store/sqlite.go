package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Vector index modes for the SQLite backend.
const (
	VectorIndexExact = "exact"
	VectorIndexHNSW  = "hnsw"
)

const metaKeyDimensions = "dimensions"

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	// Path is the database file. Empty or ":memory:" opens an in-memory database.
	Path       string
	Dimensions int
	// VectorIndex is "exact" (full scan) or "hnsw" (approximate candidates
	// for unfiltered queries, rescored exactly).
	VectorIndex string
	Timeout     time.Duration
	Logger      *slog.Logger
	// Now overrides the clock used for created_at, for tests.
	Now func() time.Time
}

// SQLiteStore is the embedded Store backend. Vectors are stored as
// little-endian float32 blobs and metadata as JSON.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	dims   int
	timer  opTimer
	logger *slog.Logger
	now    func() time.Time
	index  *hnswIndex
	closed atomic.Bool
}

var (
	_ Store    = (*SQLiteStore)(nil)
	_ Replacer = (*SQLiteStore)(nil)
)

// OpenSQLite opens or creates the database, applies migrations and checks
// that stored vectors match the configured dimension.
func OpenSQLite(opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.Dimensions <= 0 {
		return nil, terrors.ConfigError("embedding dimension must be positive", nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := OpenSQLiteDB(opts.Path)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, terrors.StoreError("failed to migrate schema", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   opts.Path,
		dims:   opts.Dimensions,
		timer:  opTimer{timeout: opts.Timeout},
		logger: opts.Logger,
		now:    opts.Now,
	}

	if err := s.checkDimensions(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	switch strings.ToLower(opts.VectorIndex) {
	case "", VectorIndexExact:
	case VectorIndexHNSW:
		s.index = newHNSWIndex(opts.Dimensions)
	default:
		_ = db.Close()
		return nil, terrors.ConfigError(fmt.Sprintf("unknown vector index %q", opts.VectorIndex), nil)
	}

	s.logger.Debug("store_opened",
		slog.String("path", displayPath(opts.Path)),
		slog.String("driver", BuildMode),
		slog.Int("dimensions", opts.Dimensions),
		slog.Bool("hnsw", s.index != nil))
	return s, nil
}

// OpenSQLiteDB opens a SQLite database with the store's connection
// settings and pragmas. Empty or ":memory:" opens an in-memory database.
func OpenSQLiteDB(path string) (*sql.DB, error) {
	dsn := displayPath(path)
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, terrors.StoreError("failed to create store directory", err)
		}
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, terrors.StoreError("failed to open database", err)
	}

	// One connection: a single writer, and the only way to share an in-memory database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, terrors.StoreError("failed to set pragma", err)
		}
	}
	return db, nil
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// checkDimensions records the dimension on first open and rejects a
// database built with a different one.
func (s *SQLiteStore) checkDimensions(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = ?", metaKeyDimensions).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx, "INSERT INTO store_meta (key, value) VALUES (?, ?)",
			metaKeyDimensions, strconv.Itoa(s.dims))
		if err != nil {
			return terrors.StoreError("failed to record embedding dimension", err)
		}
		return nil
	}
	if err != nil {
		return terrors.StoreError("failed to read embedding dimension", err)
	}

	got, err := strconv.Atoi(stored)
	if err != nil {
		return terrors.StoreError("stored embedding dimension is corrupt", err)
	}
	if got != s.dims {
		return terrors.InvalidVectorDimension(s.dims, got).
			WithSuggestion("The database was built with a different embedding model. Use a new store path or re-ingest.")
	}
	return nil
}

// DB exposes the connection for stores sharing the database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Dimensions implements Store.
func (s *SQLiteStore) Dimensions() int { return s.dims }

func (s *SQLiteStore) checkOpen() error {
	if s.closed.Load() {
		return terrors.StoreError("store is closed", nil)
	}
	return nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *EmbeddingRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	args, err := s.insertArgs(rec)
	if err != nil {
		return err
	}

	err = s.timer.run(ctx, "store.upsert", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, insertEmbedding, args...)
		return err
	})
	if err != nil {
		return err
	}

	if s.index != nil {
		s.index.add(rec.ID, rec.Vector, rec.CreatedAt.UnixNano())
	}
	return nil
}

const insertEmbedding = `
	INSERT OR REPLACE INTO embeddings
	    (id, package_id, embedding_type, vector, dims, text_content, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// insertArgs validates rec, fills its ID and CreatedAt, and returns the
// insertEmbedding arguments.
func (s *SQLiteStore) insertArgs(rec *EmbeddingRecord) ([]any, error) {
	if err := prepare(rec, s.dims, s.now()); err != nil {
		return nil, err
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, terrors.ValidationError("metadata is not JSON-serializable", err)
	}
	return []any{
		rec.ID, rec.PackageID, rec.EmbeddingType, encodeVector(rec.Vector), len(rec.Vector),
		rec.TextContent, string(metaJSON), rec.CreatedAt.UnixNano(),
	}, nil
}

// ReplacePackages implements Replacer. The deletes and inserts share one
// transaction, so a failure leaves the previous records in place.
func (s *SQLiteStore) ReplacePackages(ctx context.Context, packageIDs []string, recs []*EmbeddingRecord) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	args := make([][]any, len(recs))
	for i, rec := range recs {
		a, err := s.insertArgs(rec)
		if err != nil {
			return 0, err
		}
		args[i] = a
	}

	var removed []string
	var deleted int64
	err := s.timer.run(ctx, "store.replace_packages", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, id := range packageIDs {
			if s.index != nil {
				ids, err := packageRecordIDs(ctx, tx, id)
				if err != nil {
					return err
				}
				removed = append(removed, ids...)
			}
			res, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE package_id = ?", id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += n
		}

		stmt, err := tx.PrepareContext(ctx, insertEmbedding)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range args {
			if _, err := stmt.ExecContext(ctx, a...); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	if s.index != nil {
		s.index.remove(removed)
		for _, rec := range recs {
			s.index.add(rec.ID, rec.Vector, rec.CreatedAt.UnixNano())
		}
	}
	return int(deleted), nil
}

func packageRecordIDs(ctx context.Context, tx *sql.Tx, packageID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM embeddings WHERE package_id = ?", packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Query implements Store. Filtered queries and the exact mode scan every
// record; the HNSW mode proposes candidates for unfiltered queries and
// rescores them exactly.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(vector) != s.dims {
		return nil, terrors.InvalidVectorDimension(s.dims, len(vector))
	}
	if topK <= 0 {
		return []ScoredRecord{}, nil
	}
	filter = filter.Active()

	var results []ScoredRecord
	err := s.timer.run(ctx, "store.query", func(ctx context.Context) error {
		if s.index != nil && len(filter) == 0 {
			var ok bool
			var err error
			results, ok, err = s.queryIndexed(ctx, vector, topK)
			if err != nil || ok {
				return err
			}
		}
		var err error
		results, err = s.scan(ctx, vector, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return TopK(results, topK), nil
}

func (s *SQLiteStore) scan(ctx context.Context, vector []float32, filter Filter) ([]ScoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_id, embedding_type, vector, text_content, metadata, created_at
		FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows, filter)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		results = append(results, ScoredRecord{
			Record:     rec,
			Similarity: CosineSimilarity(vector, rec.Vector),
		})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) queryIndexed(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, bool, error) {
	if err := s.index.ensureBuilt(ctx, s.db, s.dims); err != nil {
		return nil, false, err
	}
	ids := s.index.search(vector, searchLimit(topK))
	if len(ids) < topK && len(ids) < s.index.len() {
		// graph under-delivered; the caller falls back to a scan
		return nil, false, nil
	}

	recs, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	results := make([]ScoredRecord, 0, len(recs))
	for _, rec := range recs {
		results = append(results, ScoredRecord{Record: rec, Similarity: CosineSimilarity(vector, rec.Vector)})
	}
	return results, true, nil
}

func (s *SQLiteStore) getByIDs(ctx context.Context, ids []string) ([]*EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, package_id, embedding_type, vector, text_content, metadata, created_at
		FROM embeddings WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EmbeddingRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanRecord decodes one row. It returns nil without error when the row
// fails filter; metadata is decoded first so rejected rows skip the vector.
func (s *SQLiteStore) scanRecord(rows *sql.Rows, filter Filter) (*EmbeddingRecord, error) {
	var (
		rec       EmbeddingRecord
		blob      []byte
		metaJSON  string
		createdAt int64
	)
	if err := rows.Scan(&rec.ID, &rec.PackageID, &rec.EmbeddingType, &blob, &rec.TextContent, &metaJSON, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, terrors.StoreError("corrupt metadata for record "+rec.ID, err)
	}
	if len(filter) > 0 && !filter.MatchesRecord(&rec) {
		return nil, nil
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, terrors.StoreError("corrupt vector for record "+rec.ID, err)
	}
	if len(vec) != s.dims {
		return nil, terrors.InvalidVectorDimension(s.dims, len(vec)).WithDetail("record_id", rec.ID)
	}
	rec.Vector = vec
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

// GetByPackage implements Store.
func (s *SQLiteStore) GetByPackage(ctx context.Context, packageID string) ([]*EmbeddingRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []*EmbeddingRecord
	err := s.timer.run(ctx, "store.get_by_package", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, package_id, embedding_type, vector, text_content, metadata, created_at
			FROM embeddings WHERE package_id = ?
			ORDER BY created_at, id`, packageID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := s.scanRecord(rows, nil)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*EmbeddingRecord{}
	}
	return out, nil
}

// DeleteByPackage implements Store.
func (s *SQLiteStore) DeleteByPackage(ctx context.Context, packageID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var removed []string
	var n int64
	err := s.timer.run(ctx, "store.delete_by_package", func(ctx context.Context) error {
		if s.index != nil {
			rows, err := s.db.QueryContext(ctx, "SELECT id FROM embeddings WHERE package_id = ?", packageID)
			if err != nil {
				return err
			}
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				removed = append(removed, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
		}

		res, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE package_id = ?", packageID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if s.index != nil {
		s.index.remove(removed)
	}
	return int(n), nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := s.timer.run(ctx, "store.count", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	})
	return n, err
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
