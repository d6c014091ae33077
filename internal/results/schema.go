// Package results provides the run catalog: a SQLite database recording
// every replay so the same trace can be compared across layout policies.
package results

// CreateRunsTableSQL creates the table of replay runs.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    trace_path TEXT NOT NULL,
    target_path TEXT NOT NULL,
    direct_io INTEGER NOT NULL,
    num_nodes INTEGER NOT NULL,
    num_popular INTEGER NOT NULL,
    workload_seed INTEGER NOT NULL,
    layout_seed INTEGER NOT NULL,
    good_offset_ratio REAL NOT NULL,
    geometry_version INTEGER NOT NULL DEFAULT 0,
    fingerprint TEXT NOT NULL,
    operations INTEGER NOT NULL,
    measured INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    errored INTEGER NOT NULL,
    pollutions INTEGER NOT NULL,
    verify_mismatches INTEGER NOT NULL,
    total_us INTEGER NOT NULL
)`

// CreateRunLatencyTableSQL creates the per-series latency table. Each run has
// one row per latency series (operation kind or placement class).
const CreateRunLatencyTableSQL = `
CREATE TABLE IF NOT EXISTS run_latency (
    run_id TEXT NOT NULL,
    series TEXT NOT NULL,
    count INTEGER NOT NULL,
    total_us INTEGER NOT NULL,
    min_us INTEGER NOT NULL,
    max_us INTEGER NOT NULL,
    mean_us INTEGER NOT NULL,
    p50_us INTEGER NOT NULL,
    p95_us INTEGER NOT NULL,
    p99_us INTEGER NOT NULL,
    PRIMARY KEY (run_id, series),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateGeometryVersionsTableSQL creates the registry of target geometries.
// A new version is added whenever a run uses a geometry not seen before.
const CreateGeometryVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS geometry_versions (
    version INTEGER PRIMARY KEY,
    geometry_json TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateRunsIndexesSQL creates the lookup indexes.
var CreateRunsIndexesSQL = []string{
	// Comparing policies against one trace
	`CREATE INDEX IF NOT EXISTS idx_runs_trace ON runs(trace_path, started_at)`,

	// Finding runs that used the same placement
	`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateRunLatencyTableSQL,
		CreateGeometryVersionsTableSQL,
	}
	statements = append(statements, CreateRunsIndexesSQL...)
	return statements
}
