// Package config provides unified configuration for the nodeplace tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	nperrors "github.com/arkilian/nodeplace/internal/errors"
	"github.com/arkilian/nodeplace/internal/layout"
	"github.com/arkilian/nodeplace/internal/replay"
	"github.com/arkilian/nodeplace/internal/workload"
)

// Mode represents the pipeline stages to run.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeGenerate Mode = "generate"
	ModeReplay   Mode = "replay"
)

// Storage types.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the unified configuration for trace generation and replay.
type Config struct {
	// Mode specifies which stages to run: all, generate, replay
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for traces, the run catalog and caches
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// NoColor disables colored console output
	NoColor bool `json:"no_color" yaml:"no_color"`

	Tree     TreeConfig     `json:"tree" yaml:"tree"`
	Workload WorkloadConfig `json:"workload" yaml:"workload"`
	Layout   LayoutConfig   `json:"layout" yaml:"layout"`
	Replay   ReplayConfig   `json:"replay" yaml:"replay"`
	Results  ResultsConfig  `json:"results" yaml:"results"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
}

// TreeConfig describes the modelled B+tree.
type TreeConfig struct {
	// Fanout is the number of children per internal node
	Fanout int `json:"fanout" yaml:"fanout"`

	// Levels is the depth of the tree including the root
	Levels int `json:"levels" yaml:"levels"`

	// PopularRatio is the fraction of all nodes that are popular
	PopularRatio float64 `json:"popular_ratio" yaml:"popular_ratio"`
}

// WorkloadConfig holds trace generation settings.
type WorkloadConfig struct {
	workload.Mix `yaml:",inline"`

	// Seed drives partitioning and query synthesis; 0 picks a time-derived seed
	Seed int64 `json:"seed" yaml:"seed"`

	// TracePath is where the trace is written and read; a .sz suffix
	// selects snappy compression
	TracePath string `json:"trace_path" yaml:"trace_path"`

	// SummaryPath is where the JSON generation summary is written
	SummaryPath string `json:"summary_path" yaml:"summary_path"`
}

// LayoutConfig holds the target geometry and placement policy.
type LayoutConfig struct {
	layout.Geometry `yaml:",inline"`
	layout.Policy   `yaml:",inline"`

	// Seed drives the offset shuffles; 0 picks a time-derived seed
	Seed int64 `json:"seed" yaml:"seed"`
}

// ReplayConfig holds replay engine settings.
type ReplayConfig struct {
	// TargetPath is the file or block device nodes are placed on
	TargetPath string `json:"target_path" yaml:"target_path"`

	// PollutePath is the file or device read to evict device caches
	PollutePath string `json:"pollute_path" yaml:"pollute_path"`

	// DirectIO opens both devices with O_DIRECT
	DirectIO bool `json:"direct_io" yaml:"direct_io"`

	// Alignment is the I/O buffer alignment in bytes
	Alignment int `json:"alignment" yaml:"alignment"`

	PolluteInterval int `json:"pollute_interval" yaml:"pollute_interval"`
	PolluteReads    int `json:"pollute_reads" yaml:"pollute_reads"`

	// ErrorPolicy is continue or abort
	ErrorPolicy string `json:"error_policy" yaml:"error_policy"`

	// Verify checks read-back of nodes written during the run
	Verify bool `json:"verify" yaml:"verify"`

	ProgressInterval int64 `json:"progress_interval" yaml:"progress_interval"`

	// TraceObject is an object key fetched from storage before replay
	TraceObject string `json:"trace_object" yaml:"trace_object"`
}

// ResultsConfig holds run catalog settings.
type ResultsConfig struct {
	// Path is the SQLite database file
	Path string `json:"path" yaml:"path"`

	// Disabled skips recording runs
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// CacheDir receives fetched objects
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// Concurrency is the number of parallel transfers
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the settings of the original measurements. Device
// paths have no default and must be configured before replay.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/nodeplace",
		Tree: TreeConfig{
			Fanout:       64,
			Levels:       4,
			PopularRatio: 0.1,
		},
		Workload: WorkloadConfig{
			Mix: workload.Mix{
				RoundSize:    2000,
				Rounds:       1,
				PopularShare: 0.9,
				InsertRatio:  0.1,
			},
		},
		Layout: LayoutConfig{
			Geometry: layout.Geometry{
				FileSize:    16 << 30,
				BlockSize:   256 << 10,
				ChunkSize:   4 << 10,
				NodeSize:    32 << 10,
				GoodOffsets: []int{12},
				BadOffsets:  []int{4, 20, 35, 53},
			},
		},
		Replay: ReplayConfig{
			DirectIO:         true,
			Alignment:        4096,
			PolluteInterval:  100,
			PolluteReads:     100000,
			ErrorPolicy:      string(replay.PolicyContinue),
			ProgressInterval: 100000,
		},
		Storage: StorageConfig{
			Type:        StorageNone,
			Concurrency: 4,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/nodeplace"
	}
	if c.Workload.TracePath == "" {
		c.Workload.TracePath = filepath.Join(c.DataDir, "trace.txt")
	}
	if c.Workload.SummaryPath == "" {
		c.Workload.SummaryPath = workload.SummaryPath(c.Workload.TracePath)
	}
	if c.Results.Path == "" {
		c.Results.Path = filepath.Join(c.DataDir, "runs.db")
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageNone
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeGenerate, ModeReplay:
		// Valid modes
	default:
		return configErr("invalid mode: %s (must be all, generate, or replay)", c.Mode)
	}

	if c.DataDir == "" {
		return configErr("data_dir is required")
	}

	if c.Tree.Fanout < 2 {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidTopology,
			"tree.fanout must be at least 2, got %d", c.Tree.Fanout)
	}
	if c.Tree.Levels < 1 {
		return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidTopology,
			"tree.levels must be at least 1, got %d", c.Tree.Levels)
	}
	if !(c.Tree.PopularRatio > 0 && c.Tree.PopularRatio <= 1) {
		return configErr("tree.popular_ratio must be in (0, 1], got %v", c.Tree.PopularRatio)
	}

	if err := c.Workload.Mix.Validate(); err != nil {
		return err
	}
	if err := c.Layout.Geometry.Validate(); err != nil {
		return err
	}
	if err := c.Layout.Policy.Validate(); err != nil {
		return err
	}

	if c.ShouldReplay() {
		if c.Replay.TargetPath == "" {
			return configErr("replay.target_path is required when replay runs")
		}
		if c.Replay.PollutePath == "" && c.Replay.PolluteInterval > 0 {
			return configErr("replay.pollute_path is required when pollution is enabled")
		}
		if c.Replay.PollutePath != "" && c.Replay.PollutePath == c.Replay.TargetPath {
			return configErr("replay.pollute_path must differ from replay.target_path")
		}
		if _, err := replay.ParseErrorPolicy(c.Replay.ErrorPolicy); err != nil {
			return err
		}
		if c.Replay.Alignment <= 0 || c.Replay.Alignment&(c.Replay.Alignment-1) != 0 {
			return configErr("replay.alignment must be a power of two, got %d", c.Replay.Alignment)
		}
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return configErr("s3.bucket is required when storage type is s3")
		}
	default:
		return configErr("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}
	if c.Storage.Concurrency < 1 {
		return configErr("storage.concurrency must be at least 1, got %d", c.Storage.Concurrency)
	}
	if c.Replay.TraceObject != "" && c.Storage.Type == StorageNone {
		return configErr("replay.trace_object requires a storage type")
	}

	return nil
}

func configErr(format string, args ...interface{}) error {
	return nperrors.Newf(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig, format, args...)
}

// ShouldGenerate returns true if a trace should be generated.
func (c *Config) ShouldGenerate() bool {
	return c.Mode == ModeAll || c.Mode == ModeGenerate
}

// ShouldReplay returns true if a trace should be replayed.
func (c *Config) ShouldReplay() bool {
	return c.Mode == ModeAll || c.Mode == ModeReplay
}

// StorageEnabled reports whether artifacts go to object storage.
func (c *Config) StorageEnabled() bool {
	return c.Storage.Type != StorageNone && c.Storage.Type != ""
}

// ReplayOptions converts the replay settings to engine options.
func (c *Config) ReplayOptions() replay.Options {
	opts := replay.DefaultOptions()
	opts.NodeSize = c.Layout.NodeSize
	opts.ChunkSize = c.Layout.ChunkSize
	opts.Alignment = c.Replay.Alignment
	opts.PolluteInterval = c.Replay.PolluteInterval
	opts.PolluteReads = c.Replay.PolluteReads
	opts.ErrorPolicy = replay.ErrorPolicy(c.Replay.ErrorPolicy)
	opts.Verify = c.Replay.Verify
	opts.ProgressInterval = c.Replay.ProgressInterval
	return opts
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nperrors.Wrap(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nperrors.Wrap(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
				"failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, nperrors.Wrap(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
				"failed to parse JSON config", err)
		}
	default:
		return nil, configErr("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from the given .env files, or from
// ./.env when none are given. A missing default file is not an error.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return nperrors.Wrap(nperrors.ErrCategoryConfig, nperrors.CodeInvalidConfig,
			"failed to load .env", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the NODEPLACE_ prefix. Malformed numbers are
// ignored and leave the previous value.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("NODEPLACE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("NODEPLACE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NODEPLACE_NO_COLOR"); v != "" {
		cfg.NoColor = parseBool(v)
	}

	// Tree configuration
	envInt("NODEPLACE_TREE_FANOUT", &cfg.Tree.Fanout)
	envInt("NODEPLACE_TREE_LEVELS", &cfg.Tree.Levels)
	envFloat("NODEPLACE_TREE_POPULAR_RATIO", &cfg.Tree.PopularRatio)

	// Workload configuration
	envInt("NODEPLACE_WORKLOAD_ROUND_SIZE", &cfg.Workload.RoundSize)
	envInt("NODEPLACE_WORKLOAD_ROUNDS", &cfg.Workload.Rounds)
	envFloat("NODEPLACE_WORKLOAD_POPULAR_SHARE", &cfg.Workload.PopularShare)
	envFloat("NODEPLACE_WORKLOAD_INSERT_RATIO", &cfg.Workload.InsertRatio)
	envInt64("NODEPLACE_WORKLOAD_SEED", &cfg.Workload.Seed)
	if v := os.Getenv("NODEPLACE_WORKLOAD_TRACE_PATH"); v != "" {
		cfg.Workload.TracePath = v
	}
	if v := os.Getenv("NODEPLACE_WORKLOAD_SUMMARY_PATH"); v != "" {
		cfg.Workload.SummaryPath = v
	}

	// Layout configuration
	envInt64("NODEPLACE_LAYOUT_FILE_SIZE", &cfg.Layout.FileSize)
	envInt64("NODEPLACE_LAYOUT_BLOCK_SIZE", &cfg.Layout.BlockSize)
	envInt64("NODEPLACE_LAYOUT_CHUNK_SIZE", &cfg.Layout.ChunkSize)
	envInt64("NODEPLACE_LAYOUT_NODE_SIZE", &cfg.Layout.NodeSize)
	envInts("NODEPLACE_LAYOUT_GOOD_OFFSETS", &cfg.Layout.GoodOffsets)
	envInts("NODEPLACE_LAYOUT_BAD_OFFSETS", &cfg.Layout.BadOffsets)
	envFloat("NODEPLACE_LAYOUT_GOOD_OFFSET_RATIO", &cfg.Layout.GoodOffsetRatio)
	if v := os.Getenv("NODEPLACE_LAYOUT_ALLOW_UNMAPPED"); v != "" {
		cfg.Layout.AllowUnmapped = parseBool(v)
	}
	envInt64("NODEPLACE_LAYOUT_SEED", &cfg.Layout.Seed)

	// Replay configuration
	if v := os.Getenv("NODEPLACE_REPLAY_TARGET_PATH"); v != "" {
		cfg.Replay.TargetPath = v
	}
	if v := os.Getenv("NODEPLACE_REPLAY_POLLUTE_PATH"); v != "" {
		cfg.Replay.PollutePath = v
	}
	if v := os.Getenv("NODEPLACE_REPLAY_DIRECT_IO"); v != "" {
		cfg.Replay.DirectIO = parseBool(v)
	}
	envInt("NODEPLACE_REPLAY_ALIGNMENT", &cfg.Replay.Alignment)
	envInt("NODEPLACE_REPLAY_POLLUTE_INTERVAL", &cfg.Replay.PolluteInterval)
	envInt("NODEPLACE_REPLAY_POLLUTE_READS", &cfg.Replay.PolluteReads)
	if v := os.Getenv("NODEPLACE_REPLAY_ERROR_POLICY"); v != "" {
		cfg.Replay.ErrorPolicy = v
	}
	if v := os.Getenv("NODEPLACE_REPLAY_VERIFY"); v != "" {
		cfg.Replay.Verify = parseBool(v)
	}
	envInt64("NODEPLACE_REPLAY_PROGRESS_INTERVAL", &cfg.Replay.ProgressInterval)
	if v := os.Getenv("NODEPLACE_REPLAY_TRACE_OBJECT"); v != "" {
		cfg.Replay.TraceObject = v
	}

	// Results configuration
	if v := os.Getenv("NODEPLACE_RESULTS_PATH"); v != "" {
		cfg.Results.Path = v
	}
	if v := os.Getenv("NODEPLACE_RESULTS_DISABLED"); v != "" {
		cfg.Results.Disabled = parseBool(v)
	}

	// Storage configuration
	if v := os.Getenv("NODEPLACE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("NODEPLACE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("NODEPLACE_STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := os.Getenv("NODEPLACE_STORAGE_CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	envInt("NODEPLACE_STORAGE_CONCURRENCY", &cfg.Storage.Concurrency)
	if v := os.Getenv("NODEPLACE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("NODEPLACE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("NODEPLACE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("NODEPLACE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = parseBool(v)
	}

	// Map credentials for the AWS default chain
	if v := os.Getenv("NODEPLACE_AWS_ACCESS_KEY_ID"); v != "" {
		os.Setenv("AWS_ACCESS_KEY_ID", v)
	}
	if v := os.Getenv("NODEPLACE_AWS_SECRET_ACCESS_KEY"); v != "" {
		os.Setenv("AWS_SECRET_ACCESS_KEY", v)
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// envInts parses a comma-separated list of integers.
func envInts(key string, dst *[]int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	ints, err := ParseInts(v)
	if err == nil {
		*dst = ints
	}
}

// ParseInts parses a comma-separated list of integers such as "4,20,35".
func ParseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Workload.TracePath),
		filepath.Dir(c.Workload.SummaryPath),
	}
	if !c.Results.Disabled {
		dirs = append(dirs, filepath.Dir(c.Results.Path))
	}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.StorageEnabled() {
		dirs = append(dirs, c.Storage.CacheDir)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nperrors.NewResourceError(nperrors.CodeOpenFailed,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}
	}

	return nil
}
