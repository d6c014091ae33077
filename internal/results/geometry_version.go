package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arkilian/nodeplace/internal/layout"
)

// GeometryRegistry numbers the target geometries runs were measured on, so
// runs are only compared when their block and offset configuration match.
type GeometryRegistry struct {
	db *sql.DB
}

// NewGeometryRegistry creates a registry backed by the catalog's database.
func NewGeometryRegistry(catalog *SQLiteCatalog) *GeometryRegistry {
	return &GeometryRegistry{db: catalog.db}
}

// GeometryVersionRecord is a stored geometry.
type GeometryVersionRecord struct {
	Version   int
	Geometry  layout.Geometry
	CreatedAt time.Time
}

// CurrentVersion returns the latest version number, or 0 when none exist.
func (r *GeometryRegistry) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM geometry_versions",
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("geometry_version: failed to get current version: %w", err)
	}
	return version, nil
}

// GetGeometry retrieves one version.
func (r *GeometryRegistry) GetGeometry(ctx context.Context, version int) (*GeometryVersionRecord, error) {
	var geometryJSON string
	var createdAtUnix int64

	err := r.db.QueryRowContext(ctx,
		"SELECT geometry_json, created_at FROM geometry_versions WHERE version = ?",
		version,
	).Scan(&geometryJSON, &createdAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("geometry_version: version %d not found", version)
		}
		return nil, fmt.Errorf("geometry_version: failed to get version %d: %w", version, err)
	}

	rec := &GeometryVersionRecord{Version: version, CreatedAt: time.Unix(createdAtUnix, 0)}
	if err := json.Unmarshal([]byte(geometryJSON), &rec.Geometry); err != nil {
		return nil, fmt.Errorf("geometry_version: failed to unmarshal version %d: %w", version, err)
	}
	return rec, nil
}

// RegisterGeometry returns the version of g, adding a new one when no
// registered geometry is equal to it.
func (r *GeometryRegistry) RegisterGeometry(ctx context.Context, g layout.Geometry) (int, error) {
	existing, err := r.ListGeometries(ctx)
	if err != nil {
		return 0, err
	}
	for _, rec := range existing {
		if geometriesEqual(rec.Geometry, g) {
			return rec.Version, nil
		}
	}

	newVersion := 1
	if n := len(existing); n > 0 {
		newVersion = existing[n-1].Version + 1
	}

	geometryJSON, err := json.Marshal(g)
	if err != nil {
		return 0, fmt.Errorf("geometry_version: failed to marshal geometry: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO geometry_versions (version, geometry_json, created_at) VALUES (?, ?, ?)",
		newVersion, string(geometryJSON), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("geometry_version: failed to insert version %d: %w", newVersion, err)
	}
	return newVersion, nil
}

// ListGeometries returns all versions, oldest first.
func (r *GeometryRegistry) ListGeometries(ctx context.Context) ([]GeometryVersionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT version, geometry_json, created_at FROM geometry_versions ORDER BY version ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("geometry_version: failed to list versions: %w", err)
	}
	defer rows.Close()

	var records []GeometryVersionRecord
	for rows.Next() {
		var rec GeometryVersionRecord
		var geometryJSON string
		var createdAtUnix int64

		if err := rows.Scan(&rec.Version, &geometryJSON, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("geometry_version: failed to scan version: %w", err)
		}
		if err := json.Unmarshal([]byte(geometryJSON), &rec.Geometry); err != nil {
			return nil, fmt.Errorf("geometry_version: failed to unmarshal geometry: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("geometry_version: error iterating versions: %w", err)
	}
	return records, nil
}

// geometriesEqual compares sizes and offset sets. Offsets are compared as
// sorted sets since the mapper places positions in ascending order.
func geometriesEqual(a, b layout.Geometry) bool {
	if a.FileSize != b.FileSize || a.BlockSize != b.BlockSize ||
		a.ChunkSize != b.ChunkSize || a.NodeSize != b.NodeSize {
		return false
	}
	return sameOffsets(a.GoodOffsets, b.GoodOffsets) && sameOffsets(a.BadOffsets, b.BadOffsets)
}

func sameOffsets(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]int(nil), a...)
	sb := append([]int(nil), b...)
	sort.Ints(sa)
	sort.Ints(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
