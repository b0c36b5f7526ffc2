// Command score runs the risk scoring pipeline over a transaction batch file
// and prints a summary report.
//
// Usage:
//
//	go run ./cmd/score -input transactions.csv
//	go run ./cmd/score -input transactions.json -output results.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mbd888/fraudsight/internal/config"
	"github.com/mbd888/fraudsight/internal/geo"
	"github.com/mbd888/fraudsight/internal/loader"
	"github.com/mbd888/fraudsight/internal/logging"
	"github.com/mbd888/fraudsight/internal/pipeline"
	"github.com/mbd888/fraudsight/internal/report"
	"github.com/mbd888/fraudsight/internal/risk"
)

func main() {
	input := flag.String("input", "", "path to the batch file (.csv or .json)")
	output := flag.String("output", "", "optional path for full JSON results")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: score -input <file> [-output <file>]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	records, err := loader.ReadFile(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read batch: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "batch is empty")
		os.Exit(1)
	}

	var base geo.Resolver = unresolved{}
	if db, err := geo.Open(cfg.GeoDBPath); err != nil {
		logger.Warn("geo database unavailable, IP enrichment disabled",
			"path", cfg.GeoDBPath, "error", err)
	} else {
		defer func() { _ = db.Close() }()
		base = db
	}
	resolver := geo.NewCache(base, cfg.GeoLookupTimeout, logger)

	pipe, err := pipeline.New(cfg, resolver, risk.NewMemoryStore(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build pipeline: %v\n", err)
		os.Exit(1)
	}

	results, err := pipe.Run(context.Background(), records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scoring failed: %v\n", err)
		os.Exit(1)
	}

	summary := report.Build(results)
	summary.WriteText(os.Stdout)

	if *output != "" {
		blob, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode results: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*output, blob, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nFull results written to %s\n", *output)
	}
}

// unresolved stands in when no geo database is configured.
type unresolved struct{}

func (unresolved) Resolve(context.Context, string) (geo.Facts, error) {
	return geo.Facts{}, geo.ErrUnresolved
}
