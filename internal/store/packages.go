package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	terrors "github.com/MacroAcon/tavren/internal/errors"
)

// Package is the identity of a data package as seen by the engine.
// Lifecycle is owned elsewhere; the engine only reads names and types.
type Package struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PackageStore reads and writes the packages table of a SQLite store.
type PackageStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPackageStore wraps db, which must already be migrated.
func NewPackageStore(db *sql.DB) *PackageStore {
	return &PackageStore{db: db, now: time.Now}
}

// Upsert inserts or replaces a package. CreatedAt is kept from the first insert.
func (p *PackageStore) Upsert(ctx context.Context, pkg Package) error {
	if strings.TrimSpace(pkg.ID) == "" {
		return terrors.ValidationError("package id is required", nil)
	}
	if pkg.Name == "" {
		pkg.Name = pkg.ID
	}
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = p.now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO packages (id, name, type, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name,
		    type = excluded.type,
		    owner_id = excluded.owner_id`,
		pkg.ID, pkg.Name, pkg.Type, pkg.OwnerID, pkg.CreatedAt.UnixNano())
	if err != nil {
		return terrors.StoreError("failed to upsert package", err)
	}
	return nil
}

// Get returns one package, or false when it is unknown.
func (p *PackageStore) Get(ctx context.Context, id string) (Package, bool, error) {
	var pkg Package
	var created int64
	err := p.db.QueryRowContext(ctx,
		"SELECT id, name, type, owner_id, created_at FROM packages WHERE id = ?", id).
		Scan(&pkg.ID, &pkg.Name, &pkg.Type, &pkg.OwnerID, &created)
	if err == sql.ErrNoRows {
		return Package{}, false, nil
	}
	if err != nil {
		return Package{}, false, terrors.StoreError("failed to read package", err)
	}
	pkg.CreatedAt = time.Unix(0, created).UTC()
	return pkg, true, nil
}

// GetMany returns the known packages among ids, keyed by id.
func (p *PackageStore) GetMany(ctx context.Context, ids []string) (map[string]Package, error) {
	out := make(map[string]Package, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := p.db.QueryContext(ctx,
		"SELECT id, name, type, owner_id, created_at FROM packages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, terrors.StoreError("failed to read packages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkg Package
		var created int64
		if err := rows.Scan(&pkg.ID, &pkg.Name, &pkg.Type, &pkg.OwnerID, &created); err != nil {
			return nil, terrors.StoreError("failed to scan package", err)
		}
		pkg.CreatedAt = time.Unix(0, created).UTC()
		out[pkg.ID] = pkg
	}
	if err := rows.Err(); err != nil {
		return nil, terrors.StoreError("failed to read packages", err)
	}
	return out, nil
}

// PackageCount pairs a package with its record count.
type PackageCount struct {
	Package
	Records int `json:"records"`
}

// List returns every package that has records or a packages row, with
// record counts, ordered by id.
func (p *PackageStore) List(ctx context.Context) ([]PackageCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ids.id,
		       COALESCE(pk.name, ids.id),
		       COALESCE(pk.type, ''),
		       COALESCE(pk.owner_id, ''),
		       COALESCE(pk.created_at, 0),
		       (SELECT COUNT(*) FROM embeddings e WHERE e.package_id = ids.id)
		FROM (SELECT id FROM packages UNION SELECT DISTINCT package_id FROM embeddings) ids
		LEFT JOIN packages pk ON pk.id = ids.id
		ORDER BY ids.id`)
	if err != nil {
		return nil, terrors.StoreError("failed to list packages", err)
	}
	defer rows.Close()

	var out []PackageCount
	for rows.Next() {
		var pc PackageCount
		var created int64
		if err := rows.Scan(&pc.ID, &pc.Name, &pc.Type, &pc.OwnerID, &created, &pc.Records); err != nil {
			return nil, terrors.StoreError("failed to scan package", err)
		}
		if created > 0 {
			pc.CreatedAt = time.Unix(0, created).UTC()
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
