// Package store persists embedding records and answers similarity queries.
//
// Similarity is cosine similarity. Metadata filters are applied before
// ranking so that top_k always counts matching records. Ties break by
// earlier created_at, then id ascending.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MacroAcon/tavren/internal/config"
	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// EmbeddingRecord is one stored vector with its source text.
// Records are never mutated after insert; updates are delete then reinsert.
type EmbeddingRecord struct {
	ID            string         `json:"id"`
	PackageID     string         `json:"package_id"`
	EmbeddingType string         `json:"embedding_type"`
	Vector        []float32      `json:"vector,omitempty"`
	TextContent   string         `json:"text_content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ScoredRecord pairs a record with its cosine similarity to a query.
type ScoredRecord struct {
	Record     *EmbeddingRecord
	Similarity float64
}

// Store is the embedding store contract.
type Store interface {
	// Upsert inserts rec, assigning ID and CreatedAt when unset.
	Upsert(ctx context.Context, rec *EmbeddingRecord) error

	// Query returns up to topK records matching filter, most similar first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// GetByPackage returns a package's records in creation order.
	GetByPackage(ctx context.Context, packageID string) ([]*EmbeddingRecord, error)

	// DeleteByPackage removes a package's records and reports how many were removed.
	DeleteByPackage(ctx context.Context, packageID string) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Dimensions returns the deployment vector length.
	Dimensions() int

	// Close releases resources.
	Close() error
}

// Replacer is implemented by stores that can swap the records of whole
// packages atomically. ReplacePackages deletes every record of
// packageIDs, inserts recs, and reports how many records were deleted.
// On error no change is visible.
type Replacer interface {
	ReplacePackages(ctx context.Context, packageIDs []string, recs []*EmbeddingRecord) (int, error)
}

// Filter is a conjunction of metadata constraints: every key must be
// present and its value (or, for arrays, one of its elements) must be in
// the allowed set. Keys with an empty allow-list are ignored.
type Filter map[string][]string

// FieldEmbeddingType is a reserved Filter key constraining the record's
// embedding_type instead of a metadata key.
const FieldEmbeddingType = "@embedding_type"

// MatchesRecord reports whether rec satisfies every constraint, including
// FieldEmbeddingType.
func (f Filter) MatchesRecord(rec *EmbeddingRecord) bool {
	if allowed := f[FieldEmbeddingType]; len(allowed) > 0 && !slices.Contains(allowed, rec.EmbeddingType) {
		return false
	}
	return f.Matches(rec.Metadata)
}

// Matches reports whether metadata satisfies every metadata constraint.
func (f Filter) Matches(metadata map[string]any) bool {
	for key, allowed := range f {
		if len(allowed) == 0 || key == FieldEmbeddingType {
			continue
		}
		if len(MatchingValues(metadata[key], allowed)) == 0 {
			return false
		}
	}
	return true
}

// Active returns the constrained keys, ignoring empty allow-lists.
func (f Filter) Active() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

// MatchingValues returns the allowed values present in a metadata value.
// Scalars match by their string form; arrays match by membership. The
// result follows allowed order and holds no duplicates.
func MatchingValues(value any, allowed []string) []string {
	if value == nil {
		return nil
	}
	present := make(map[string]struct{})
	switch v := value.(type) {
	case []any:
		for _, elem := range v {
			present[ValueString(elem)] = struct{}{}
		}
	case []string:
		for _, elem := range v {
			present[elem] = struct{}{}
		}
	default:
		present[ValueString(v)] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if _, ok := present[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ValueString renders a scalar metadata value for comparison.
func ValueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// NewID returns a time-ordered record id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// prepare validates rec and fills ID and CreatedAt.
func prepare(rec *EmbeddingRecord, dims int, now time.Time) error {
	if rec == nil {
		return terrors.ValidationError("record is nil", nil)
	}
	if strings.TrimSpace(rec.PackageID) == "" {
		return terrors.ValidationError("record package_id is required", nil)
	}
	if len(rec.Vector) != dims {
		return terrors.InvalidVectorDimension(dims, len(rec.Vector)).
			WithDetail("package_id", rec.PackageID)
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	return nil
}

// opTimer applies the per-operation store timeout and maps deadline
// expiry to a retryable timeout error.
type opTimer struct {
	timeout time.Duration
}

func (t opTimer) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return terrors.Timeout(op, time.Since(start), err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := terrors.As(err); ok {
		return err
	}
	return terrors.StoreError(op+" failed", err)
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, dims int, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite":
		return OpenSQLite(SQLiteOptions{
			Path:        cfg.Path,
			Dimensions:  dims,
			VectorIndex: cfg.VectorIndex,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		})
	case "qdrant":
		return OpenQdrant(ctx, QdrantOptions{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			Collection: cfg.QdrantCollection,
			Dimensions: dims,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		})
	default:
		return nil, terrors.ConfigError(fmt.Sprintf("unknown store backend %q", cfg.Backend), nil)
	}
}
