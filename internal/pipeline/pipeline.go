// Package pipeline drives the structuring passes for one method or a batch.
//
// # Pass Order
//
//	┌──────────┐   ┌──────────┐   ┌──────────┐   ┌───────────┐
//	│ cfg      │ → │ region   │ → │ check    │ → │ prepare   │ → code generator
//	│ Analyze  │   │ Build    │   │ Regions  │   │ Method    │
//	└──────────┘   └──────────┘   └──────────┘   └───────────┘
//
// # Fault Isolation
//
// A panic or fatal error inside any pass is contained to its method: the
// method is marked erroneous and receives a comment-only stub tree. Batches
// run methods on a fixed-size worker pool, and one method's fault never
// stops the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpyw/regionize/internal/cfg"
	"github.com/mpyw/regionize/internal/check"
	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/log"
	"github.com/mpyw/regionize/internal/prepare"
	"github.com/mpyw/regionize/internal/region"
)

// ErrPanic wraps a recovered panic.
var ErrPanic = errors.New("panic during structuring")

// Options configures a run.
type Options struct {
	// Workers bounds concurrent methods in a batch; <= 0 means GOMAXPROCS.
	Workers int
	// MethodTimeout is the wall-clock budget per method; zero disables it.
	// An overrun is treated as a fatal fault of that method.
	MethodTimeout time.Duration
	// Ternary enables ternary collapse in the builder.
	Ternary bool
	// Logger receives pipeline and builder logs; nil means the root logger.
	Logger *slog.Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		Workers: runtime.GOMAXPROCS(0),
		Ternary: true,
	}
}

// Result is the outcome of one method.
type Result struct {
	Method *ir.Method
	Tree   *region.Tree
	// Err is the fatal fault, nil when structuring succeeded.
	Err error
	// Warnings holds the method diagnostics, including those of earlier
	// passes.
	Warnings []ir.Warning
	// Skipped counts blocks left un-normalized after a failed rewrite.
	Skipped int
}

// Failed reports whether the method fell back to a stub.
func (r *Result) Failed() bool { return r.Err != nil }

// Run structures a single method. It never panics and always returns a tree.
func Run(ctx context.Context, m *ir.Method, opts Options) *Result {
	logger := log.For(opts.Logger, log.Pipeline)
	res := &Result{Method: m}
	if opts.MethodTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MethodTimeout)
		defer cancel()
	}

	if err := run(ctx, m, opts, res); err != nil {
		res.Err = err
		res.Tree = region.NewStub(fmt.Sprintf("method structuring failed: %v", err))
		if m != nil {
			m.MarkError(err)
		}
		logger.Error("method structuring failed", "method", methodName(m), "error", err)
	}
	if m != nil {
		res.Warnings = m.Warnings()
	}
	if n := len(res.Warnings); n > 0 {
		logger.Debug("method structured with warnings", "method", methodName(m), "warnings", n)
	}
	return res
}

func run(ctx context.Context, m *ir.Method, opts Options, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	if m == nil {
		return region.ErrNoEntry
	}

	info := cfg.New().Analyze(m)
	tree, err := region.Build(ctx, m, info, region.Options{
		Ternary: opts.Ternary,
		Logger:  log.For(opts.Logger, log.Builder),
	})
	if err != nil {
		return err
	}
	check.Regions(m, tree, info)
	res.Skipped = prepare.Method(m, tree)
	res.Tree = tree
	return nil
}

func methodName(m *ir.Method) string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}

// RunBatch structures methods on a worker pool. Results keep input order.
// Only cancellation of ctx ends the batch early; remaining methods then fail
// with the context error.
func RunBatch(ctx context.Context, methods []*ir.Method, opts Options) *Report {
	logger := log.For(opts.Logger, log.Pipeline)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	start := time.Now()
	logger.Info("batch started", "methods", len(methods), "workers", workers)

	results := make([]*Result, len(methods))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, m := range methods {
		g.Go(func() error {
			results[i] = Run(ctx, m, opts)
			return nil
		})
	}
	_ = g.Wait()

	rep := newReport(results)
	logger.Info("batch finished",
		"methods", len(methods),
		"errors", rep.Errors,
		"warnings", rep.Warnings,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return rep
}
