// Package main implements the unified nodeplace binary.
// This binary generates a trace, replays it, or both, based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/nodeplace/internal/app"
	"github.com/arkilian/nodeplace/internal/config"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		showVersion bool
		showHelp    bool
	)

	flags := config.BindFlags(flag.CommandLine, true)
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "nodeplace - B+tree node placement latency experiments\n\n")
		fmt.Fprintf(os.Stderr, "Usage: nodeplace [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  nodeplace --mode generate --trace /data/trace.txt.sz\n")
		fmt.Fprintf(os.Stderr, "  nodeplace --target /dev/nvme0n1 --pollute /dev/nvme1n1 --good-ratio 0.5\n")
		fmt.Fprintf(os.Stderr, "  nodeplace --config /etc/nodeplace/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  NODEPLACE_MODE                Pipeline mode (all, generate, replay)\n")
		fmt.Fprintf(os.Stderr, "  NODEPLACE_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  NODEPLACE_REPLAY_TARGET_PATH  Target file or device\n")
		fmt.Fprintf(os.Stderr, "  NODEPLACE_REPLAY_POLLUTE_PATH Pollution file or device\n")
		fmt.Fprintf(os.Stderr, "  NODEPLACE_STORAGE_TYPE        Artifact storage (none, local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("nodeplace version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}

	err = application.Run(ctx)
	if cerr := application.Close(); cerr != nil {
		log.Printf("Close error: %v", cerr)
	}
	if err != nil {
		log.Printf("nodeplace: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A replay
// stops between operations and its partial run is still recorded.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      NODEPLACE                            ║")
	log.Printf("║        B+tree node placement latency experiments          ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("")

	if cfg.ShouldGenerate() {
		log.Printf("Generation:")
		log.Printf("  Tree:  fanout=%d levels=%d popular=%.3f", cfg.Tree.Fanout, cfg.Tree.Levels, cfg.Tree.PopularRatio)
		log.Printf("  Mix:   rounds=%d round_size=%d popular_share=%.3f insert_ratio=%.3f",
			cfg.Workload.Rounds, cfg.Workload.RoundSize, cfg.Workload.PopularShare, cfg.Workload.InsertRatio)
	}

	if cfg.ShouldReplay() {
		log.Printf("Replay:")
		log.Printf("  Target:  %s (direct=%v)", cfg.Replay.TargetPath, cfg.Replay.DirectIO)
		log.Printf("  Pollute: %s every %d ops x %d reads", cfg.Replay.PollutePath, cfg.Replay.PolluteInterval, cfg.Replay.PolluteReads)
		log.Printf("  Layout:  %s good_ratio=%.3f", &cfg.Layout.Geometry, cfg.Layout.GoodOffsetRatio)
	}

	log.Printf("")
}
