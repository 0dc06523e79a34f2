// Package regionize provides a static analysis tool that structures the
// control flow of Go functions into nested regions (sequences, ifs, loops,
// switches and synchronized blocks) the way a decompiler would.
//
// Functions whose control flow cannot be structured (irreducible gotos, locks
// not released on every path, unplaceable blocks) are reported with the
// fallback the structurer had to take.
package regionize

import (
	"go/ast"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"

	"github.com/mpyw/regionize/internal"
	"github.com/mpyw/regionize/internal/directive"
)

// Analyzer is the main analyzer for regionize.
var Analyzer = &analysis.Analyzer{
	Name:     "regionize",
	Doc:      "reports functions whose control flow does not structure into nested regions",
	Requires: []*analysis.Analyzer{buildssa.Analyzer},
	Run:      run,
}

var config internal.Config

func init() {
	Analyzer.Flags.StringVar(&config.DebugFilter, "debug", "", "dump region trees of functions matching this regexp to stderr")
	Analyzer.Flags.DurationVar(&config.Timeout, "timeout", 0, "structuring time budget per function (0 disables)")
}

func run(pass *analysis.Pass) (any, error) {
	ssaInfo := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)

	skipFiles := buildSkipFiles(pass)

	files := make(map[string]*directive.File)
	for _, file := range pass.Files {
		filename := pass.Fset.Position(file.Pos()).Filename
		if skipFiles[filename] {
			continue
		}
		files[filename] = directive.Parse(pass.Fset, file)
	}

	internal.RunSSA(pass, ssaInfo, files, skipFiles, config)

	return nil, nil
}

// buildSkipFiles creates a set of filenames to skip.
// Generated files are always skipped.
// Test files can be skipped via the driver's built-in -test flag.
func buildSkipFiles(pass *analysis.Pass) map[string]bool {
	skipFiles := make(map[string]bool)
	for _, file := range pass.Files {
		if ast.IsGenerated(file) {
			skipFiles[pass.Fset.Position(file.Pos()).Filename] = true
		}
	}
	return skipFiles
}
