package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/nodeplace/internal/config"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/results"
	"github.com/arkilian/nodeplace/internal/workload"
)

func makeFile(t *testing.T, p string, size int64) {
	t.Helper()
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

// toyConfig is a 7-node tree on an 8-block target with room for 32 nodes.
func toyConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.NoColor = true
	cfg.Tree = config.TreeConfig{Fanout: 2, Levels: 3, PopularRatio: 0.6}
	cfg.Workload.Mix = workload.Mix{RoundSize: 20, Rounds: 2, PopularShare: 0.5, InsertRatio: 0.5}
	cfg.Workload.Seed = 11
	cfg.Layout.FileSize = 8 * 8192
	cfg.Layout.BlockSize = 8192
	cfg.Layout.ChunkSize = 512
	cfg.Layout.NodeSize = 1024
	cfg.Layout.GoodOffsets = []int{4}
	cfg.Layout.BadOffsets = []int{0, 8, 12}
	cfg.Layout.GoodOffsetRatio = 0.5
	cfg.Layout.Seed = 3
	cfg.Replay.TargetPath = filepath.Join(dir, "target.img")
	cfg.Replay.PollutePath = filepath.Join(dir, "pollute.img")
	cfg.Replay.DirectIO = false
	cfg.Replay.Alignment = 512
	cfg.Replay.PolluteInterval = 5
	cfg.Replay.PolluteReads = 3
	cfg.Replay.Verify = true

	makeFile(t, cfg.Replay.TargetPath, cfg.Layout.FileSize)
	makeFile(t, cfg.Replay.PollutePath, 4096)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a, err := New(context.Background(), cfg, WithOutput(&out))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, &out
}

func TestApp_GenerateAndReplay(t *testing.T) {
	a, out := newApp(t, toyConfig(t))
	ctx := context.Background()

	gen, err := a.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), gen.Seed)
	assert.Equal(t, 7, gen.Summary.NumNodes)
	assert.Equal(t, 4, gen.Summary.NumPopular)
	assert.Equal(t, 2, gen.Summary.Total.Splits)
	assert.FileExists(t, a.Config().Workload.TracePath)
	assert.FileExists(t, a.Config().Workload.SummaryPath)

	run, err := a.Replay(ctx)
	require.NoError(t, err)

	res := run.Result
	assert.Equal(t, int64(gen.Summary.Total.Ops()), res.Operations)
	assert.Equal(t, res.Operations, res.Measured, "every node fits on the target")
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Errored)
	assert.Zero(t, res.VerifyMismatches)
	assert.Equal(t, res.Measured/5, res.Pollutions)
	assert.Equal(t, int64(gen.Summary.Total.Writes), res.Writes)

	rec := run.Record
	assert.Equal(t, results.StatusCompleted, rec.Status)
	assert.Equal(t, int64(11), rec.WorkloadSeed)
	assert.Equal(t, int64(3), rec.LayoutSeed)
	assert.Equal(t, run.Mapping.Fingerprint(), rec.Fingerprint)
	assert.Equal(t, 1, rec.GeometryVersion)
	assert.Equal(t, res.TotalMicros(), rec.TotalMicros)

	stored, err := a.Runs(ctx, a.Config().Workload.TracePath)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, rec.RunID, stored[0].RunID)
	assert.Equal(t, rec.Measured, stored[0].Measured)

	assert.Contains(t, out.String(), "Trace generated")
	assert.Contains(t, out.String(), "Total execution time (usec):")
}

func TestApp_SameLayoutSeedSameFingerprint(t *testing.T) {
	a, out := newApp(t, toyConfig(t))
	ctx := context.Background()

	_, err := a.Generate(ctx)
	require.NoError(t, err)
	first, err := a.Replay(ctx)
	require.NoError(t, err)
	second, err := a.Replay(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Record.Fingerprint, second.Record.Fingerprint)
	assert.NotEqual(t, first.Record.RunID, second.Record.RunID)
	assert.Equal(t, first.Record.GeometryVersion, second.Record.GeometryVersion)
	assert.Contains(t, out.String(), "2 recorded run(s)")
}

func TestApp_GeometryVersions(t *testing.T) {
	a, _ := newApp(t, toyConfig(t))
	ctx := context.Background()
	_, err := a.Generate(ctx)
	require.NoError(t, err)

	first, err := a.Replay(ctx)
	require.NoError(t, err)

	a.Config().Layout.BadOffsets = []int{12, 0, 8}
	reordered, err := a.Replay(ctx)
	require.NoError(t, err)

	a.Config().Layout.BadOffsets = []int{0, 8}
	fewer, err := a.Replay(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Record.GeometryVersion)
	assert.Equal(t, 1, reordered.Record.GeometryVersion, "offset order does not change the geometry")
	assert.Equal(t, 2, fewer.Record.GeometryVersion)

	stored, err := a.Runs(ctx, "")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 2, stored[2].GeometryVersion)
}

func TestApp_RunAllMode(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Mode = config.ModeAll
	a, _ := newApp(t, cfg)

	require.NoError(t, a.Run(context.Background()))

	runs, err := a.Runs(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestApp_PublishAndFetchTrace(t *testing.T) {
	genCfg := toyConfig(t)
	genCfg.Mode = config.ModeGenerate
	genCfg.Storage.Type = config.StorageLocal
	genCfg.Storage.Path = filepath.Join(t.TempDir(), "bucket")
	genCfg.Storage.Prefix = "traces"
	genCfg.Workload.TracePath = filepath.Join(genCfg.DataDir, "toy.txt.sz")

	gen, _ := newApp(t, genCfg)
	g, err := gen.Generate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"traces/toy.txt.sz", "traces/toy.summary.json"}, g.Objects)

	replayCfg := toyConfig(t)
	replayCfg.Mode = config.ModeReplay
	replayCfg.Storage.Type = config.StorageLocal
	replayCfg.Storage.Path = genCfg.Storage.Path
	replayCfg.Replay.TraceObject = "traces/toy.txt.sz"
	replayCfg.Workload.TracePath = filepath.Join(replayCfg.DataDir, "absent.txt")

	rep, _ := newApp(t, replayCfg)
	run, err := rep.Replay(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(replayCfg.Storage.CacheDir, "traces", "toy.txt.sz"), run.Record.TracePath)
	assert.Equal(t, int64(11), run.Record.WorkloadSeed, "seed comes from the fetched summary")
	assert.Equal(t, int64(g.Summary.Total.Ops()), run.Result.Operations)
}

func TestApp_MissingTarget(t *testing.T) {
	cfg := toyConfig(t)
	a, _ := newApp(t, cfg)
	_, err := a.Generate(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(cfg.Replay.TargetPath))
	_, err = a.Replay(context.Background())
	require.Error(t, err)
	assert.Equal(t, nperrors.CodeOpenFailed, nperrors.GetCode(err))
	assert.Equal(t, 1, nperrors.ExitCode(err))

	runs, err := a.Runs(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, runs, "setup failures are not recorded")
}

func TestApp_InsufficientOffsets(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Layout.FileSize = 8192
	a, _ := newApp(t, cfg)
	_, err := a.Generate(context.Background())
	require.NoError(t, err)

	_, err = a.Replay(context.Background())
	require.Error(t, err)
	assert.Equal(t, nperrors.CodeInsufficientOffsets, nperrors.GetCode(err))
	assert.Equal(t, 2, nperrors.ExitCode(err))
}

func TestApp_AllowUnmappedSkips(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Layout.FileSize = 8192
	cfg.Layout.AllowUnmapped = true
	a, _ := newApp(t, cfg)
	_, err := a.Generate(context.Background())
	require.NoError(t, err)

	run, err := a.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.Mapping.Unmapped())
	assert.Equal(t, run.Result.Operations, run.Result.Measured+run.Result.Skipped)
}

func TestApp_CancelledRunIsRecorded(t *testing.T) {
	a, _ := newApp(t, toyConfig(t))
	_, err := a.Generate(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := a.Replay(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, results.StatusCancelled, run.Record.Status)

	stored, err := a.Runs(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, results.StatusCancelled, stored[0].Status)
}

func TestApp_MissingTrace(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Mode = config.ModeReplay
	a, _ := newApp(t, cfg)

	_, err := a.Replay(context.Background())
	require.Error(t, err)
	assert.Equal(t, nperrors.CodeOpenFailed, nperrors.GetCode(err))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := toyConfig(t)
	cfg.Tree.PopularRatio = 0
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, nperrors.ErrCategoryConfig, nperrors.GetCategory(err))
}
