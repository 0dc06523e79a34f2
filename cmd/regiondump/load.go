package main

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/log"
	"github.com/mpyw/regionize/internal/lower"
)

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedImports |
	packages.NeedDeps | packages.NeedTypes | packages.NeedSyntax | packages.NeedTypesInfo |
	packages.NeedTypesSizes

// loadFunctions builds SSA for the packages matching patterns and returns
// their source functions with bodies, sorted by name.
func loadFunctions(patterns []string, filter *regexp.Regexp) ([]*ssa.Function, error) {
	pkgs, err := packages.Load(&packages.Config{Mode: loadMode}, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return nil, fmt.Errorf("loading packages: %d errors", n)
	}

	prog, ssaPkgs := ssautil.Packages(pkgs, ssa.InstantiateGenerics)
	prog.Build()

	wanted := make(map[*ssa.Package]bool)
	for _, p := range ssaPkgs {
		if p != nil {
			wanted[p] = true
		}
	}

	var fns []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Pkg == nil || !wanted[fn.Pkg] || fn.Synthetic != "" || len(fn.Blocks) == 0 {
			continue
		}
		if filter != nil && !filter.MatchString(fn.String()) {
			continue
		}
		fns = append(fns, fn)
	}
	slices.SortFunc(fns, func(a, b *ssa.Function) int { return strings.Compare(a.String(), b.String()) })
	log.Info(log.CLI, "functions loaded", "packages", len(wanted), "functions", len(fns))
	return fns, nil
}

// lowerAll translates fns; functions the front end cannot represent are
// returned as errors and left out.
func lowerAll(fns []*ssa.Function) ([]*ir.Method, []error) {
	methods := make([]*ir.Method, 0, len(fns))
	var errs []error
	for _, fn := range fns {
		m, err := lower.Function(fn)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		methods = append(methods, m)
	}
	return methods, errs
}
