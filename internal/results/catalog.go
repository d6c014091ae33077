package results

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/observability"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusCancelled = "cancelled"
)

// Catalog stores replay runs.
type Catalog interface {
	// RecordRun stores a run and its latency series. An empty RunID is
	// replaced by a new one.
	RecordRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns the runs of one trace, oldest first. An empty path
	// lists every run.
	ListRuns(ctx context.Context, tracePath string) ([]*RunRecord, error)

	// Close closes the catalog database connection.
	Close() error
}

// RunRecord describes one replay.
type RunRecord struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           string
	TracePath        string
	TargetPath       string
	DirectIO         bool
	NumNodes         int
	NumPopular       int
	WorkloadSeed     int64
	LayoutSeed       int64
	GoodOffsetRatio  float64
	GeometryVersion  int
	Fingerprint      string
	Operations       int64
	Measured         int64
	Skipped          int64
	Errored          int64
	Pollutions       int64
	VerifyMismatches int64
	TotalMicros      int64
	Latency          []Latency
}

// Latency is one latency series of a run, in microseconds.
type Latency struct {
	Series      string
	Count       int64
	TotalMicros int64
	MinMicros   int64
	MaxMicros   int64
	MeanMicros  int64
	P50Micros   int64
	P95Micros   int64
	P99Micros   int64
}

// LatencyFromSummaries converts latency summaries for storage.
func LatencyFromSummaries(summaries []observability.Summary) []Latency {
	out := make([]Latency, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, Latency{
			Series:      s.Key,
			Count:       s.Count,
			TotalMicros: s.Total.Microseconds(),
			MinMicros:   s.Min.Microseconds(),
			MaxMicros:   s.Max.Microseconds(),
			MeanMicros:  s.Mean.Microseconds(),
			P50Micros:   s.P50.Microseconds(),
			P95Micros:   s.P95.Microseconds(),
			P99Micros:   s.P99.Microseconds(),
		})
	}
	return out
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // Serializes writes

	insertRunStmt     *sql.Stmt
	insertLatencyStmt *sql.Stmt
}

// NewCatalog opens (or creates) the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to open run catalog", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to initialize run catalog schema", err)
	}

	catalog.insertRunStmt, err = db.Prepare(`
		INSERT INTO runs (
			run_id, started_at, finished_at, status,
			trace_path, target_path, direct_io,
			num_nodes, num_popular, workload_seed, layout_seed,
			good_offset_ratio, geometry_version, fingerprint,
			operations, measured, skipped, errored,
			pollutions, verify_mismatches, total_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to prepare run insert", err)
	}

	catalog.insertLatencyStmt, err = db.Prepare(`
		INSERT INTO run_latency (
			run_id, series, count, total_us, min_us, max_us, mean_us, p50_us, p95_us, p99_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		catalog.insertRunStmt.Close()
		db.Close()
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to prepare latency insert", err)
	}

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (c *SQLiteCatalog) Path() string {
	return c.dbPath
}

// RecordRun stores run and its latency series in one transaction.
func (c *SQLiteCatalog) RecordRun(ctx context.Context, run *RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if run.RunID == "" {
		run.RunID = NewRunID()
	}
	if run.Status == "" {
		run.Status = StatusCompleted
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, c.insertRunStmt).ExecContext(ctx,
		run.RunID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), run.Status,
		run.TracePath, run.TargetPath, run.DirectIO,
		run.NumNodes, run.NumPopular, run.WorkloadSeed, run.LayoutSeed,
		run.GoodOffsetRatio, run.GeometryVersion, run.Fingerprint,
		run.Operations, run.Measured, run.Skipped, run.Errored,
		run.Pollutions, run.VerifyMismatches, run.TotalMicros,
	)
	if err != nil {
		return nperrors.NewResultsError(nperrors.CodeRecordFailed,
			fmt.Sprintf("failed to insert run %s", run.RunID), err)
	}

	latencyStmt := tx.StmtContext(ctx, c.insertLatencyStmt)
	for _, l := range run.Latency {
		_, err := latencyStmt.ExecContext(ctx,
			run.RunID, l.Series, l.Count, l.TotalMicros, l.MinMicros, l.MaxMicros,
			l.MeanMicros, l.P50Micros, l.P95Micros, l.P99Micros,
		)
		if err != nil {
			return nperrors.NewResultsError(nperrors.CodeRecordFailed,
				fmt.Sprintf("failed to insert latency series %q of run %s", l.Series, run.RunID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to commit run", err)
	}
	return nil
}

const selectRunSQL = `
	SELECT run_id, started_at, finished_at, status,
		trace_path, target_path, direct_io,
		num_nodes, num_popular, workload_seed, layout_seed,
		good_offset_ratio, geometry_version, fingerprint,
		operations, measured, skipped, errored,
		pollutions, verify_mismatches, total_us
	FROM runs`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var r RunRecord
	var started, finished int64
	err := row.Scan(
		&r.RunID, &started, &finished, &r.Status,
		&r.TracePath, &r.TargetPath, &r.DirectIO,
		&r.NumNodes, &r.NumPopular, &r.WorkloadSeed, &r.LayoutSeed,
		&r.GoodOffsetRatio, &r.GeometryVersion, &r.Fingerprint,
		&r.Operations, &r.Measured, &r.Skipped, &r.Errored,
		&r.Pollutions, &r.VerifyMismatches, &r.TotalMicros,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	return &r, nil
}

// GetRun retrieves a single run by ID.
func (c *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	run, err := scanRun(c.db.QueryRowContext(ctx, selectRunSQL+" WHERE run_id = ?", runID))
	if err == sql.ErrNoRows {
		return nil, nperrors.NewResultsError(nperrors.CodeRunNotFound, fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to scan run", err)
	}
	if err := c.loadLatency(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the runs of tracePath, oldest first.
func (c *SQLiteCatalog) ListRuns(ctx context.Context, tracePath string) ([]*RunRecord, error) {
	query := selectRunSQL
	var args []interface{}
	if tracePath != "" {
		query += " WHERE trace_path = ?"
		args = append(args, tracePath)
	}
	query += " ORDER BY started_at, run_id"

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to query runs", err)
	}

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to scan run", err)
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to iterate runs", err)
	}

	for _, run := range runs {
		if err := c.loadLatency(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (c *SQLiteCatalog) loadLatency(ctx context.Context, run *RunRecord) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT series, count, total_us, min_us, max_us, mean_us, p50_us, p95_us, p99_us
		FROM run_latency
		WHERE run_id = ?
		ORDER BY count DESC, series`, run.RunID)
	if err != nil {
		return nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to query latency", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Latency
		if err := rows.Scan(&l.Series, &l.Count, &l.TotalMicros, &l.MinMicros, &l.MaxMicros,
			&l.MeanMicros, &l.P50Micros, &l.P95Micros, &l.P99Micros); err != nil {
			return nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to scan latency", err)
		}
		run.Latency = append(run.Latency, l)
	}
	return rows.Err()
}

// Close closes the prepared statements and the database.
func (c *SQLiteCatalog) Close() error {
	c.insertRunStmt.Close()
	c.insertLatencyStmt.Close()
	return c.db.Close()
}
