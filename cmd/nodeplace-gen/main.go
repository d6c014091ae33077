// Package main implements the nodeplace-gen binary.
// It synthesizes a B+tree access trace and writes it to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arkilian/nodeplace/internal/app"
	"github.com/arkilian/nodeplace/internal/config"
	nperrors "github.com/arkilian/nodeplace/internal/errors"
)

func main() {
	flags := config.BindFlags(flag.CommandLine, false)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nodeplace-gen [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := flags.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Mode = config.ModeGenerate

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}

	log.Printf("Starting nodeplace-gen")
	log.Printf("  Tree:  fanout=%d levels=%d popular=%.3f", cfg.Tree.Fanout, cfg.Tree.Levels, cfg.Tree.PopularRatio)
	log.Printf("  Trace: %s", cfg.Workload.TracePath)

	_, err = application.Generate(ctx)
	application.Close()
	if err != nil {
		log.Printf("nodeplace-gen: %v", err)
		os.Exit(nperrors.ExitCode(err))
	}
}
