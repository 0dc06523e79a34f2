// Command regiondump structures every function of the given packages and
// prints the region trees together with an end-of-run report.
//
// Usage:
//
//	regiondump [flags] <packages>
//	regiondump --tree --func 'Parse' ./internal/...
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpyw/regionize/internal/debug"
	"github.com/mpyw/regionize/internal/log"
	"github.com/mpyw/regionize/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	workers  int
	timeout  time.Duration
	funcExpr string
	logLevel string
	tree     bool
	ternary  bool
}

func newRootCmd() *cobra.Command {
	var f flags
	defaults := pipeline.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:          "regiondump [flags] <packages>",
		Short:        "Structure Go functions into region trees",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f, args)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	fs := rootCmd.Flags()
	fs.IntVar(&f.workers, "workers", defaults.Workers, "number of functions structured concurrently")
	fs.DurationVar(&f.timeout, "timeout", 0, "time budget per function (0 disables)")
	fs.StringVar(&f.funcExpr, "func", "", "only structure functions whose name matches this regexp")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")
	fs.BoolVar(&f.tree, "tree", false, "print the region tree of every function")
	fs.BoolVar(&f.ternary, "ternary", defaults.Ternary, "collapse single-assignment if/else into ternaries")
	return rootCmd
}

func run(ctx context.Context, cmd *cobra.Command, f flags, patterns []string) error {
	level, err := log.ParseLevel(f.logLevel)
	if err != nil {
		return err
	}
	log.SetDefault(log.New(cmd.ErrOrStderr(), level))

	var filter *regexp.Regexp
	if f.funcExpr != "" {
		if filter, err = regexp.Compile(f.funcExpr); err != nil {
			return fmt.Errorf("invalid --func: %w", err)
		}
	}

	fns, err := loadFunctions(patterns, filter)
	if err != nil {
		return err
	}
	methods, lowerErrs := lowerAll(fns)
	for _, err := range lowerErrs {
		log.Warn(log.Lower, "function skipped", "error", err)
	}

	opts := pipeline.Options{
		Workers:       f.workers,
		MethodTimeout: f.timeout,
		Ternary:       f.ternary,
		Logger:        log.Root(),
	}
	rep := pipeline.RunBatch(ctx, methods, opts)

	out := cmd.OutOrStdout()
	if f.tree {
		for _, r := range rep.Results {
			fmt.Fprintln(out, debug.FormatTree(r.Method.Name, r.Tree))
		}
	}
	if err := rep.Print(out); err != nil {
		return err
	}
	if rep.Errors > 0 {
		return fmt.Errorf("%d of %d functions failed to structure", rep.Errors, len(rep.Results))
	}
	return ctx.Err()
}
