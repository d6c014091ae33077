package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags_ApplyOnlySetFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs, true)
	require.NoError(t, fs.Parse([]string{
		"--mode", "replay",
		"--fanout", "8",
		"--good-ratio", "0.75",
		"--bad-offsets", "0,8",
		"--direct=false",
		"--target", "/dev/sdb",
	}))

	cfg := DefaultConfig()
	cfg.Tree.Levels = 5
	require.NoError(t, f.Apply(cfg))

	assert.Equal(t, ModeReplay, cfg.Mode)
	assert.Equal(t, 8, cfg.Tree.Fanout)
	assert.Equal(t, 5, cfg.Tree.Levels, "unset flag keeps the existing value")
	assert.Equal(t, 0.75, cfg.Layout.GoodOffsetRatio)
	assert.Equal(t, []int{0, 8}, cfg.Layout.BadOffsets)
	assert.Equal(t, []int{12}, cfg.Layout.GoodOffsets)
	assert.False(t, cfg.Replay.DirectIO)
	assert.Equal(t, "/dev/sdb", cfg.Replay.TargetPath)
	assert.Equal(t, 100, cfg.Replay.PolluteInterval)
}

func TestFlags_BadOffsetList(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs, false)
	require.NoError(t, fs.Parse([]string{"--good-offsets", "4,x"}))

	err := f.Apply(DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--good-offsets")
}

func TestFlags_NoModeFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	BindFlags(fs, false)
	assert.Nil(t, fs.Lookup("mode"))
}

func TestFlags_LoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(file, []byte("tree:\n  fanout: 4\n  levels: 2\nworkload:\n  rounds: 9\n"), 0644))

	t.Setenv("NODEPLACE_TREE_LEVELS", "6")
	t.Setenv("NODEPLACE_WORKLOAD_ROUNDS", "3")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := BindFlags(fs, true)
	require.NoError(t, fs.Parse([]string{"--config", file, "--rounds", "5", "--env-file", writeEnv(t, dir)}))

	cfg, err := f.Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Tree.Fanout, "file overrides default")
	assert.Equal(t, 6, cfg.Tree.Levels, "environment overrides file")
	assert.Equal(t, 5, cfg.Workload.Rounds, "flag overrides environment")
	assert.Equal(t, 0.5, cfg.Workload.InsertRatio, ".env fills unset variables")
}

func writeEnv(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(p, []byte("NODEPLACE_WORKLOAD_INSERT_RATIO=0.5\nNODEPLACE_TREE_LEVELS=7\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("NODEPLACE_WORKLOAD_INSERT_RATIO") })
	return p
}
