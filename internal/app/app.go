// Package app provides the pipeline orchestration shared by the nodeplace
// binaries: trace generation, layout mapping, replay and run recording.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/arkilian/nodeplace/internal/config"
	"github.com/arkilian/nodeplace/internal/directio"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/layout"
	"github.com/arkilian/nodeplace/internal/replay"
	"github.com/arkilian/nodeplace/internal/report"
	"github.com/arkilian/nodeplace/internal/results"
	"github.com/arkilian/nodeplace/internal/rng"
	"github.com/arkilian/nodeplace/internal/storage"
	"github.com/arkilian/nodeplace/internal/topology"
	"github.com/arkilian/nodeplace/internal/workload"
)

// Sub-streams of the workload seed.
const (
	streamPartition uint64 = iota + 1
	streamSynthesis
)

// Generation is the JSON document written next to every trace.
type Generation struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	TracePath    string            `json:"trace_path"`
	Seed         int64             `json:"seed"`
	Fanout       int               `json:"fanout"`
	Levels       int               `json:"levels"`
	PopularRatio float64           `json:"popular_ratio"`
	Mix          workload.Mix      `json:"mix"`
	Summary      *workload.Summary `json:"summary"`
	Objects      []string          `json:"objects,omitempty"`
}

// Run describes a finished replay.
type Run struct {
	Record  *results.RunRecord
	Result  *replay.Result
	Mapping *layout.Mapping
}

// App runs the configured stages.
type App struct {
	cfg       *config.Config
	out       io.Writer
	printer   *report.Printer
	artifacts *storage.ArtifactStore
	catalog   *results.SQLiteCatalog

	mu     sync.Mutex
	closed bool
}

// Option configures an App.
type Option func(*App)

// WithOutput sends console reports to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithStorage uses st for artifacts instead of the configured backend.
func WithStorage(st storage.ObjectStorage) Option {
	return func(a *App) {
		a.artifacts = storage.NewArtifactStore(st, a.cfg.Storage.Prefix, a.cfg.Storage.Concurrency, a.cfg.Storage.CacheDir)
	}
}

// New creates a new App with the given configuration.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	// Resolve paths and validate
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	a.printer = report.New(a.out, cfg.NoColor)

	if a.artifacts == nil && cfg.StorageEnabled() {
		st, err := a.openStorage(ctx)
		if err != nil {
			return nil, err
		}
		a.artifacts = storage.NewArtifactStore(st, cfg.Storage.Prefix, cfg.Storage.Concurrency, cfg.Storage.CacheDir)
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (storage.ObjectStorage, error) {
	var (
		st  storage.ObjectStorage
		err error
	)
	switch a.cfg.Storage.Type {
	case config.StorageLocal:
		st, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case config.StorageS3:
		st, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.UsePathStyle,
		})
	default:
		return nil, nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return nil, nperrors.NewResourceError(nperrors.CodeOpenFailed, "failed to initialize storage", err)
	}
	log.Printf("storage: initialized type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == config.StorageS3 {
		log.Printf("storage: bucket=%s region=%s endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}
	return st, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run executes the stages selected by the configured mode.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.ShouldGenerate() {
		if _, err := a.Generate(ctx); err != nil {
			return err
		}
	}
	if a.cfg.ShouldReplay() {
		if _, err := a.Replay(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Generate builds the tree model, partitions it, writes the trace and its
// summary, and publishes both when storage is configured.
func (a *App) Generate(ctx context.Context) (*Generation, error) {
	cfg := a.cfg
	model, err := topology.New(cfg.Tree.Fanout, cfg.Tree.Levels)
	if err != nil {
		return nil, err
	}

	seed := rng.ResolveSeed(cfg.Workload.Seed)
	log.Printf("workload: seed=%d", seed)

	nodes, err := model.Partition(cfg.Tree.PopularRatio, rng.New(rng.Derive(seed, streamPartition)))
	if err != nil {
		return nil, err
	}
	log.Printf("workload: total nodes=%d popular=%d unpopular=%d top levels=%d",
		model.NumNodes(), len(nodes.Popular), len(nodes.Unpopular), model.TopLevelNodes())

	synth, err := workload.NewSynthesizer(model, nodes, cfg.Workload.Mix, rng.New(rng.Derive(seed, streamSynthesis)))
	if err != nil {
		return nil, err
	}

	fw, err := workload.CreateFile(cfg.Workload.TracePath)
	if err != nil {
		return nil, err
	}
	summary, err := synth.Generate(fw)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}

	gen := &Generation{
		GeneratedAt:  time.Now().UTC(),
		TracePath:    cfg.Workload.TracePath,
		Seed:         seed,
		Fanout:       cfg.Tree.Fanout,
		Levels:       cfg.Tree.Levels,
		PopularRatio: cfg.Tree.PopularRatio,
		Mix:          cfg.Workload.Mix,
		Summary:      summary,
	}
	if err := writeGeneration(cfg.Workload.SummaryPath, gen); err != nil {
		return nil, err
	}

	if a.artifacts != nil {
		keys, err := a.artifacts.Publish(ctx, cfg.Workload.TracePath, cfg.Workload.SummaryPath)
		if err != nil {
			return nil, err
		}
		gen.Objects = keys
	}

	a.printer.Generation(cfg.Workload.TracePath, summary)
	return gen, nil
}

func writeGeneration(p string, gen *Generation) error {
	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return nperrors.NewInternalError("failed to encode generation summary", err)
	}
	if err := os.WriteFile(p, append(data, '\n'), 0644); err != nil {
		return nperrors.NewResourceError(nperrors.CodeOpenFailed,
			fmt.Sprintf("failed to write generation summary %s", p), err)
	}
	return nil
}

// readGeneration loads a summary written by Generate. A missing file
// returns nil without error.
func readGeneration(p string) (*Generation, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var gen Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, err
	}
	return &gen, nil
}

// Replay maps the trace onto the target, replays it, and records the run.
// Setup failures return before any operation executes. A run that stops
// early is still recorded, with status aborted or cancelled.
func (a *App) Replay(ctx context.Context) (*Run, error) {
	cfg := a.cfg

	tracePath, summaryPath, err := a.resolveTrace(ctx)
	if err != nil {
		return nil, err
	}

	trace, err := workload.OpenFile(tracePath)
	if err != nil {
		return nil, err
	}
	defer trace.Close()
	header := trace.Header()
	log.Printf("replay: trace %s nodes=%d popular=%d", tracePath, header.NumNodes, header.NumPopular())

	layoutSeed := rng.ResolveSeed(cfg.Layout.Seed)
	log.Printf("layout: seed=%d", layoutSeed)
	mapper, err := layout.NewMapper(cfg.Layout.Geometry, cfg.Layout.Policy, rng.New(layoutSeed))
	if err != nil {
		return nil, err
	}
	mapping, err := mapper.Map(header.NumNodes, header.PopularNodes)
	if err != nil {
		return nil, err
	}
	a.printer.Layout(mapping)

	target, err := directio.Open(cfg.Replay.TargetPath, cfg.Replay.DirectIO)
	if err != nil {
		return nil, err
	}
	defer target.Close()

	// The engine only touches the pollute device when pollution is enabled
	var pollute replay.Device
	if cfg.Replay.PolluteInterval > 0 {
		pf, err := directio.Open(cfg.Replay.PollutePath, cfg.Replay.DirectIO)
		if err != nil {
			return nil, err
		}
		defer pf.Close()
		pollute = pf
	}

	engine, err := replay.NewEngine(target, pollute, mapping, cfg.ReplayOptions())
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	started := time.Now()
	res, runErr := engine.Run(ctx, trace)
	finished := time.Now()

	run := &Run{Result: res, Mapping: mapping}
	run.Record = a.newRecord(tracePath, summaryPath, header.NumNodes, header.NumPopular(), layoutSeed, mapping, res, runErr)
	run.Record.StartedAt = started
	run.Record.FinishedAt = finished

	if err := a.record(ctx, run.Record); err != nil {
		if runErr != nil {
			log.Printf("replay: %v", err)
		} else {
			return run, err
		}
	}

	a.printer.Replay(run.Record.RunID, res)
	if runErr == nil && a.catalog != nil {
		if runs, err := a.catalog.ListRuns(ctx, tracePath); err == nil && len(runs) > 1 {
			a.printer.Runs(runs)
		}
	}
	return run, runErr
}

// resolveTrace returns the local trace path, fetching the configured trace
// object and its summary first when one is set.
func (a *App) resolveTrace(ctx context.Context) (string, string, error) {
	cfg := a.cfg
	if cfg.Replay.TraceObject == "" {
		return cfg.Workload.TracePath, cfg.Workload.SummaryPath, nil
	}

	traceKey := cfg.Replay.TraceObject
	summaryKey := path.Join(path.Dir(traceKey), filepath.Base(workload.SummaryPath(traceKey)))
	fetched, err := a.artifacts.Fetch(ctx, traceKey, summaryKey)
	if err != nil {
		return "", "", err
	}
	if err := fetched.Errors[traceKey]; err != nil {
		return "", "", err
	}
	if err := fetched.Errors[summaryKey]; err != nil {
		log.Printf("replay: no generation summary for %s: %v", traceKey, err)
	}
	log.Printf("replay: fetched %s (%d downloaded, %d cached)", traceKey, fetched.Downloads, fetched.CacheHits)
	return fetched.LocalPaths[traceKey], a.artifacts.LocalPath(summaryKey), nil
}

func (a *App) newRecord(tracePath, summaryPath string, numNodes, numPopular int, layoutSeed int64,
	mapping *layout.Mapping, res *replay.Result, runErr error) *results.RunRecord {
	rec := &results.RunRecord{
		RunID:           results.NewRunID(),
		Status:          results.StatusCompleted,
		TracePath:       tracePath,
		TargetPath:      a.cfg.Replay.TargetPath,
		DirectIO:        a.cfg.Replay.DirectIO,
		NumNodes:        numNodes,
		NumPopular:      numPopular,
		LayoutSeed:      layoutSeed,
		GoodOffsetRatio: a.cfg.Layout.GoodOffsetRatio,
		Fingerprint:     mapping.Fingerprint(),
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		rec.Status = results.StatusCancelled
	default:
		rec.Status = results.StatusAborted
	}

	if gen, err := readGeneration(summaryPath); err != nil {
		log.Printf("replay: unreadable generation summary %s: %v", summaryPath, err)
	} else if gen != nil {
		rec.WorkloadSeed = gen.Seed
	}

	if res != nil {
		rec.Operations = res.Operations
		rec.Measured = res.Measured
		rec.Skipped = res.Skipped
		rec.Errored = res.Errored
		rec.Pollutions = res.Pollutions
		rec.VerifyMismatches = res.VerifyMismatches
		rec.TotalMicros = res.TotalMicros()
		rec.Latency = results.LatencyFromSummaries(res.Latency)
	}
	return rec
}

func (a *App) record(ctx context.Context, rec *results.RunRecord) error {
	if a.cfg.Results.Disabled {
		return nil
	}
	if a.catalog == nil {
		catalog, err := results.NewCatalog(a.cfg.Results.Path)
		if err != nil {
			return err
		}
		a.catalog = catalog
	}
	// A cancelled run is still recorded
	ctx = context.WithoutCancel(ctx)
	version, err := results.NewGeometryRegistry(a.catalog).RegisterGeometry(ctx, a.cfg.Layout.Geometry)
	if err != nil {
		return nperrors.NewResultsError(nperrors.CodeRecordFailed, "failed to register geometry", err)
	}
	rec.GeometryVersion = version
	if err := a.catalog.RecordRun(ctx, rec); err != nil {
		return err
	}
	log.Printf("results: recorded run %s (%s, geometry v%d)", rec.RunID, rec.Status, rec.GeometryVersion)
	return nil
}

// Runs lists recorded runs of tracePath, or all runs when it is empty.
func (a *App) Runs(ctx context.Context, tracePath string) ([]*results.RunRecord, error) {
	if a.cfg.Results.Disabled {
		return nil, nil
	}
	if a.catalog == nil {
		catalog, err := results.NewCatalog(a.cfg.Results.Path)
		if err != nil {
			return nil, err
		}
		a.catalog = catalog
	}
	return a.catalog.ListRuns(ctx, tracePath)
}

// Close releases the run catalog.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.catalog != nil {
		return a.catalog.Close()
	}
	return nil
}
