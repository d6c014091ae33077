package config

import (
	"flag"
)

// Flags holds the command line overrides shared by the nodeplace binaries.
// Only flags given on the command line are applied, so file and
// environment values survive unless explicitly overridden.
type Flags struct {
	fs *flag.FlagSet

	ConfigFile string
	EnvFile    string

	dataDir      string
	mode         string
	noColor      bool
	fanout       int
	levels       int
	popularRatio float64
	roundSize    int
	rounds       int
	popularShare float64
	insertRatio  float64
	seed         int64
	trace        string
	fileSize     int64
	blockSize    int64
	chunkSize    int64
	nodeSize     int64
	goodOffsets  string
	badOffsets   string
	goodRatio    float64
	allowUnmap   bool
	layoutSeed   int64
	target       string
	pollute      string
	direct       bool
	alignment    int
	polluteEvery int
	polluteReads int
	errorPolicy  string
	verify       bool
	traceObject  string
	storageType  string
	resultsPath  string
}

// BindFlags registers the overrides on fs. withMode adds the --mode flag
// of the unified binary.
func BindFlags(fs *flag.FlagSet, withMode bool) *Flags {
	f := &Flags{fs: fs}

	fs.StringVar(&f.ConfigFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&f.EnvFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	fs.StringVar(&f.dataDir, "data-dir", "", "Base directory for traces, run catalog and caches")
	if withMode {
		fs.StringVar(&f.mode, "mode", "", "Pipeline mode: all, generate, replay")
	}
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")

	// Tree and workload
	fs.IntVar(&f.fanout, "fanout", 0, "Tree fanout")
	fs.IntVar(&f.levels, "levels", 0, "Tree depth including the root")
	fs.Float64Var(&f.popularRatio, "popular-ratio", 0, "Fraction of nodes that are popular")
	fs.IntVar(&f.roundSize, "round-size", 0, "Queries per round")
	fs.IntVar(&f.rounds, "rounds", 0, "Number of rounds")
	fs.Float64Var(&f.popularShare, "popular-share", 0, "Fraction of queries on popular nodes")
	fs.Float64Var(&f.insertRatio, "insert-ratio", 0, "Fraction of queries that insert")
	fs.Int64Var(&f.seed, "seed", 0, "Workload seed (0 = time-derived)")
	fs.StringVar(&f.trace, "trace", "", "Trace file path (.sz for snappy compression)")

	// Layout
	fs.Int64Var(&f.fileSize, "file-size", 0, "Target region size in bytes")
	fs.Int64Var(&f.blockSize, "block-size", 0, "Block size in bytes")
	fs.Int64Var(&f.chunkSize, "chunk-size", 0, "Chunk size in bytes")
	fs.Int64Var(&f.nodeSize, "node-size", 0, "Node size in bytes")
	fs.StringVar(&f.goodOffsets, "good-offsets", "", "Comma-separated good chunk positions within a block")
	fs.StringVar(&f.badOffsets, "bad-offsets", "", "Comma-separated bad chunk positions within a block")
	fs.Float64Var(&f.goodRatio, "good-ratio", 0, "Fraction of popular nodes placed on good positions")
	fs.BoolVar(&f.allowUnmap, "allow-unmapped", false, "Skip nodes that do not fit instead of failing")
	fs.Int64Var(&f.layoutSeed, "layout-seed", 0, "Layout seed (0 = time-derived)")

	// Replay
	fs.StringVar(&f.target, "target", "", "Target file or block device")
	fs.StringVar(&f.pollute, "pollute", "", "Cache pollution file or block device")
	fs.BoolVar(&f.direct, "direct", true, "Open devices with O_DIRECT")
	fs.IntVar(&f.alignment, "alignment", 0, "I/O buffer alignment in bytes")
	fs.IntVar(&f.polluteEvery, "pollute-interval", 0, "Executed operations between pollutions (0 disables)")
	fs.IntVar(&f.polluteReads, "pollute-reads", 0, "Chunk reads per pollution")
	fs.StringVar(&f.errorPolicy, "error-policy", "", "Per-operation I/O error policy: continue, abort")
	fs.BoolVar(&f.verify, "verify", false, "Verify read-back of nodes written during the run")
	fs.StringVar(&f.traceObject, "trace-object", "", "Object key of a trace to fetch before replay")
	fs.StringVar(&f.storageType, "storage", "", "Artifact storage: none, local, s3")
	fs.StringVar(&f.resultsPath, "results", "", "Run catalog database path")

	return f
}

// Apply copies every flag that was set on the command line into cfg.
func (f *Flags) Apply(cfg *Config) error {
	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "data-dir":
			cfg.DataDir = f.dataDir
		case "mode":
			cfg.Mode = Mode(f.mode)
		case "no-color":
			cfg.NoColor = f.noColor
		case "fanout":
			cfg.Tree.Fanout = f.fanout
		case "levels":
			cfg.Tree.Levels = f.levels
		case "popular-ratio":
			cfg.Tree.PopularRatio = f.popularRatio
		case "round-size":
			cfg.Workload.RoundSize = f.roundSize
		case "rounds":
			cfg.Workload.Rounds = f.rounds
		case "popular-share":
			cfg.Workload.PopularShare = f.popularShare
		case "insert-ratio":
			cfg.Workload.InsertRatio = f.insertRatio
		case "seed":
			cfg.Workload.Seed = f.seed
		case "trace":
			cfg.Workload.TracePath = f.trace
		case "file-size":
			cfg.Layout.FileSize = f.fileSize
		case "block-size":
			cfg.Layout.BlockSize = f.blockSize
		case "chunk-size":
			cfg.Layout.ChunkSize = f.chunkSize
		case "node-size":
			cfg.Layout.NodeSize = f.nodeSize
		case "good-offsets":
			cfg.Layout.GoodOffsets, err = ParseInts(f.goodOffsets)
		case "bad-offsets":
			cfg.Layout.BadOffsets, err = ParseInts(f.badOffsets)
		case "good-ratio":
			cfg.Layout.GoodOffsetRatio = f.goodRatio
		case "allow-unmapped":
			cfg.Layout.AllowUnmapped = f.allowUnmap
		case "layout-seed":
			cfg.Layout.Seed = f.layoutSeed
		case "target":
			cfg.Replay.TargetPath = f.target
		case "pollute":
			cfg.Replay.PollutePath = f.pollute
		case "direct":
			cfg.Replay.DirectIO = f.direct
		case "alignment":
			cfg.Replay.Alignment = f.alignment
		case "pollute-interval":
			cfg.Replay.PolluteInterval = f.polluteEvery
		case "pollute-reads":
			cfg.Replay.PolluteReads = f.polluteReads
		case "error-policy":
			cfg.Replay.ErrorPolicy = f.errorPolicy
		case "verify":
			cfg.Replay.Verify = f.verify
		case "trace-object":
			cfg.Replay.TraceObject = f.traceObject
		case "storage":
			cfg.Storage.Type = f.storageType
		case "results":
			cfg.Results.Path = f.resultsPath
		}
		if err != nil {
			err = configErr("--%s: %v", fl.Name, err)
		}
	})
	return err
}

// Load builds the configuration with the precedence defaults < file <
// environment (.env included) < command line.
func (f *Flags) Load() (*Config, error) {
	var cfg *Config
	var err error

	// Start with defaults or load from file
	if f.ConfigFile != "" {
		cfg, err = LoadFromFile(f.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}

	// Apply environment variables
	if f.EnvFile != "" {
		err = LoadDotEnv(f.EnvFile)
	} else {
		err = LoadDotEnv()
	}
	if err != nil {
		return nil, err
	}
	LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
