// Package main implements the nodeplace-replay binary.
// It maps a trace onto a target device, replays it with direct I/O and
// records the measured latency in the run catalog.
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
	"github.com/arkilian/nodeplace/internal/report"
)

func main() {
	var listRuns bool

	flags := config.BindFlags(flag.CommandLine, false)
	flag.BoolVar(&listRuns, "list", false, "List recorded runs of the trace and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nodeplace-replay --target <dev> --pollute <dev> [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Mode = config.ModeReplay

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v, stopping after the current operation", sig)
		cancel()
	}()

	if listRuns {
		// Listing needs no devices
		cfg.Mode = config.ModeGenerate
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}

	if listRuns {
		runs, err := application.Runs(ctx, cfg.Workload.TracePath)
		application.Close()
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		report.New(os.Stdout, cfg.NoColor).Runs(runs)
		return
	}

	log.Printf("Starting nodeplace-replay")
	log.Printf("  Target:  %s (direct=%v)", cfg.Replay.TargetPath, cfg.Replay.DirectIO)
	log.Printf("  Pollute: %s", cfg.Replay.PollutePath)

	_, err = application.Replay(ctx)
	if cerr := application.Close(); cerr != nil {
		log.Printf("Close error: %v", cerr)
	}
	if err != nil {
		log.Printf("nodeplace-replay: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}
}
