// Package internal connects the public analyzer to the structuring passes.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                         Analysis Flow                                    │
//	│                                                                          │
//	│   analyzer.go (public)                                                   │
//	│        │                                                                 │
//	│        ▼                                                                 │
//	│   internal/analyzer.go   ◀── You are here                                │
//	│   ┌─────────────────────────────────────────────────────────────────┐   │
//	│   │  RunSSA()                                                       │   │
//	│   │    │                                                            │   │
//	│   │    ├── Skip excluded files/functions                            │   │
//	│   │    ├── Lower the SSA function (internal/lower)                  │   │
//	│   │    ├── Structure it (internal/pipeline)                         │   │
//	│   │    ├── Dump region trees on request (internal/debug)            │   │
//	│   │    └── Apply ignore directives and report                       │   │
//	│   └─────────────────────────────────────────────────────────────────┘   │
//	└─────────────────────────────────────────────────────────────────────────┘
//
// # Responsibilities
//
//   - Orchestrate structuring for all source functions
//   - Aggregate the warnings of a function into one diagnostic
//   - Handle function-level and line-level ignore directives
//   - Report unused ignore directives
package internal

import (
	"context"
	"fmt"
	"go/token"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"

	"github.com/mpyw/regionize/internal/debug"
	"github.com/mpyw/regionize/internal/directive"
	"github.com/mpyw/regionize/internal/lower"
	"github.com/mpyw/regionize/internal/pipeline"
)

// Config holds the analyzer flags.
type Config struct {
	// DebugFilter is a regexp over function names whose trees are dumped to
	// stderr.
	DebugFilter string
	// Timeout bounds the structuring of one function; zero disables it.
	Timeout time.Duration
}

// =============================================================================
// Entry Point
// =============================================================================

// RunSSA structures every source function of the package and reports one
// diagnostic per function that needed a fallback.
//
// Processing flow for each function:
//  1. Skip if file is excluded (generated files, etc.)
//  2. Skip if function has //regionize:ignore directive
//  3. Lower the SSA body and run the structuring pipeline
//  4. Dump the region tree if requested
//  5. Report warnings (unless suppressed by line-level ignore)
//  6. Report unused ignore directives
func RunSSA(
	pass *analysis.Pass,
	ssaInfo *buildssa.SSA,
	files map[string]*directive.File,
	skipFiles map[string]bool,
	cfg Config,
) {
	var debugFilterRegex *regexp.Regexp
	if cfg.DebugFilter != "" {
		var err error
		debugFilterRegex, err = regexp.Compile(cfg.DebugFilter)
		if err != nil {
			pass.Reportf(token.NoPos, "invalid debug filter regex: %v", err)
			debugFilterRegex = nil
		}
	}

	opts := pipeline.DefaultOptions()
	opts.MethodTimeout = cfg.Timeout

	for _, fn := range ssaInfo.SrcFuncs {
		pos := fn.Pos()
		if !pos.IsValid() {
			continue
		}
		filename := pass.Fset.Position(pos).Filename
		if skipFiles[filename] {
			continue
		}
		file := files[filename]
		if file.IgnoresFunc(pos) {
			continue
		}

		chk := newChecker(pass, file, opts, debugFilterRegex)
		chk.checkFunction(fn)
	}

	for _, file := range files {
		if file == nil {
			continue
		}
		for _, pos := range file.Ignores.GetUnusedIgnores() {
			pass.Reportf(pos, "unused regionize:ignore directive")
		}
	}
}

// =============================================================================
// Checker
// =============================================================================

// checker wraps one function's structuring with directive handling.
type checker struct {
	pass             *analysis.Pass
	file             *directive.File
	opts             pipeline.Options
	reported         map[token.Pos]bool
	debugFilterRegex *regexp.Regexp
}

func newChecker(pass *analysis.Pass, file *directive.File, opts pipeline.Options, debugFilterRegex *regexp.Regexp) *checker {
	return &checker{
		pass:             pass,
		file:             file,
		opts:             opts,
		reported:         make(map[token.Pos]bool),
		debugFilterRegex: debugFilterRegex,
	}
}

func (c *checker) checkFunction(fn *ssa.Function) {
	if len(fn.Blocks) == 0 {
		return
	}
	m, err := lower.Function(fn)
	if err != nil {
		c.report(fn.Pos(), fmt.Sprintf("structuring %s: %v", fn.Name(), err))
		return
	}

	res := pipeline.Run(context.Background(), m, c.opts)

	debugMode := c.file.DumpsFunc(fn.Pos()) ||
		c.debugFilterRegex != nil && c.debugFilterRegex.MatchString(fn.String())
	if debugMode {
		fmt.Fprintf(os.Stderr, "\n=== Debug output for %s ===\n", fn.String())
		fmt.Fprint(os.Stderr, debug.FormatTree(fn.String(), res.Tree))
	}

	if msgs := messages(res); len(msgs) > 0 {
		c.report(fn.Pos(), fmt.Sprintf("structuring %s: %s", fn.Name(), strings.Join(msgs, "; ")))
	}
}

// messages lists the distinct diagnostics of a result, the fatal fault first.
func messages(res *pipeline.Result) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(msg string) {
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	if res.Failed() {
		line, _, _ := strings.Cut(res.Err.Error(), "\n")
		add(line)
	}
	for _, w := range res.Warnings {
		line, _, _ := strings.Cut(w.Message, "\n")
		add(line)
	}
	return out
}

// report reports a diagnostic if not ignored or already reported.
func (c *checker) report(pos token.Pos, message string) {
	if c.reported[pos] {
		return
	}
	c.reported[pos] = true

	line := c.pass.Fset.Position(pos).Line
	if c.file != nil && c.file.Ignores.ShouldIgnore(line) {
		return
	}
	c.pass.Reportf(pos, "%s", message)
}
