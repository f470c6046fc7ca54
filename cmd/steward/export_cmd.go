package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/quorumworks/steward/pkg/config"
	"github.com/quorumworks/steward/pkg/contracts"
)

// runExportCmd implements `steward export`: it dumps the durable run
// checkpoints for the configured source keys as JSON, for audit or
// debugging of recovery state.
//
// Exit codes:
//
//	0 = export completed
//	2 = usage or runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		sourceKeys string
		outPath    string
	)
	fs.StringVar(&sourceKeys, "source-keys", "", "Comma-separated source keys (overrides SOURCE_KEYS)")
	fs.StringVar(&outPath, "out", "", "Write JSON to file instead of stdout")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if sourceKeys != "" {
		cfg.SourceKeys = splitKeys(sourceKeys)
	}
	if len(cfg.SourceKeys) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: no source keys configured (set SOURCE_KEYS or --source-keys)")
		return 2
	}

	store, err := openCheckpointStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	checkpoints := make(map[string]*contracts.RunCheckpoint, len(cfg.SourceKeys))
	for _, key := range cfg.SourceKeys {
		cp, err := store.Load(ctx, key)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: load checkpoint for %s: %v\n", key, err)
			return 2
		}
		checkpoints[key] = cp
	}

	blob, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	blob = append(blob, '\n')

	if outPath != "" {
		//nolint:gosec // G306: checkpoint export is not sensitive
		if err := os.WriteFile(outPath, blob, 0644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Exported %d checkpoint(s) to %s\n", len(checkpoints), outPath)
		return 0
	}

	_, _ = stdout.Write(blob)
	return 0
}
