package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/jward/reftrace"
	"github.com/spf13/cobra"
)

var (
	flagScope     string
	flagBatchSize int
	flagTick      time.Duration
	flagBudget    time.Duration
	flagTimeout   time.Duration
	flagProgress  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <target> [path]",
	Short: "Find artifacts that reference a target",
	Long:  "Scans every artifact under the project (or --scope) for the target's identity. " +
		"A target naming an existing file is resolved to its .meta guid or relative path; anything else is searched for literally. " +
		"Interrupting the scan or hitting --timeout cancels it and reports the partial result.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&flagScope, "scope", "", "limit the scan to a subdirectory")
	scanCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "items processed per tick (default from config)")
	scanCmd.Flags().DurationVar(&flagTick, "tick", 0, "interval between ticks (default from config)")
	scanCmd.Flags().DurationVar(&flagBudget, "budget", 0, "wall-time cap per tick (default from config)")
	scanCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "cancel the scan after this long")
	scanCmd.Flags().BoolVar(&flagProgress, "progress", false, "print progress to stderr after every tick")
}

func runScan(cmd *cobra.Command, args []string) error {
	p, err := loadProject(args[1:])
	if err != nil {
		return outputError("scan", err)
	}

	var opts []reftrace.Option
	if flagTick > 0 {
		opts = append(opts, reftrace.WithTickInterval(flagTick))
	}
	if flagBudget > 0 {
		opts = append(opts, reftrace.WithTickBudget(flagBudget))
	}
	engine, err := p.openEngine(opts...)
	if err != nil {
		return outputError("scan", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	req := reftrace.ScanRequest{
		Target:    args[0],
		Scope:     flagScope,
		BatchSize: flagBatchSize,
	}
	if flagProgress {
		req.OnProgress = func(pr reftrace.Progress) {
			fmt.Fprintf(os.Stderr, "\r%d/%d scanned, %d matches", pr.Processed, pr.Total, pr.MatchCount)
			if pr.Done() {
				fmt.Fprintln(os.Stderr)
			}
		}
	}

	rep, err := engine.RunScan(ctx, req)
	if err != nil {
		return outputError("scan", err)
	}
	if rep.Cancelled() {
		fmt.Fprintf(os.Stderr, "Scan cancelled after %d of %d items\n", rep.Progress.Processed, rep.Progress.Total)
	}
	return outputResult(CLIResult{Command: "scan", Results: scanToCLI(rep)})
}
