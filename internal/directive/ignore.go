package directive

import (
	"go/ast"
	"go/token"
	"slices"
)

// ignoreEntry tracks an ignore directive and whether it was used.
type ignoreEntry struct {
	pos  token.Pos // Position of the ignore comment
	used bool      // Whether this ignore suppressed a diagnostic
}

// fileLevel is the IgnoreMap key of a file-level ignore.
const fileLevel = -1

// IgnoreMap tracks line numbers that have ignore comments.
type IgnoreMap map[int]*ignoreEntry

// BuildIgnoreMap scans a file for ignore comments and returns a map.
//
// Example:
//
//	//regionize:ignore         // Line 5 → map[5] (line-level)
//	func f() { ... }           // Line 6 → ignored (line 5 covers line 6)
//
//	// File-level ignore (in package doc):
//	// regionize:ignore        // → map[-1] (special marker)
//	package main               // All lines ignored
func BuildIgnoreMap(fset *token.FileSet, file *ast.File) IgnoreMap {
	m := make(IgnoreMap)
	for _, cg := range file.Comments {
		for _, c := range cg.List {
			if IsIgnoreDirective(c.Text) {
				m[fset.Position(c.Pos()).Line] = &ignoreEntry{pos: c.Pos()}
			}
		}
	}
	if file.Doc != nil {
		for _, c := range file.Doc.List {
			if IsIgnoreDirective(c.Text) {
				// File-level ignores never count as unused.
				m[fileLevel] = &ignoreEntry{pos: c.Pos(), used: true}
			}
		}
	}
	return m
}

// ShouldIgnore reports whether diagnostics on line are suppressed by a
// file-level ignore or an ignore on the same or the previous line. A matching
// entry is marked used.
func (m IgnoreMap) ShouldIgnore(line int) bool {
	for _, key := range [...]int{fileLevel, line, line - 1} {
		if entry, ok := m[key]; ok {
			entry.used = true
			return true
		}
	}
	return false
}

// GetUnusedIgnores returns the positions of unused line-level ignores in
// source order.
func (m IgnoreMap) GetUnusedIgnores() []token.Pos {
	var unused []token.Pos
	for line, entry := range m {
		if line != fileLevel && !entry.used {
			unused = append(unused, entry.pos)
		}
	}
	slices.Sort(unused)
	return unused
}

// MarkUsed marks the ignore directive at the given line as used.
func (m IgnoreMap) MarkUsed(line int) {
	if entry, ok := m[line]; ok {
		entry.used = true
	}
}

// FunctionEntry represents a function-level directive.
type FunctionEntry struct {
	DirectiveLine int // Line number of the directive (for marking as used)
}

// BuildFunctionSet returns the functions whose doc comment carries a
// directive accepted by match, keyed by the position of the function name
// (which is what ssa.Function.Pos reports).
func BuildFunctionSet(fset *token.FileSet, file *ast.File, match func(string) bool) map[token.Pos]FunctionEntry {
	result := make(map[token.Pos]FunctionEntry)
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Doc == nil {
			continue
		}
		for _, c := range fd.Doc.List {
			if match(c.Text) {
				result[fd.Name.Pos()] = FunctionEntry{DirectiveLine: fset.Position(c.Pos()).Line}
				break
			}
		}
	}
	return result
}

// File is the directive set of one source file.
type File struct {
	Ignores     IgnoreMap
	IgnoreFuncs map[token.Pos]FunctionEntry
	DumpFuncs   map[token.Pos]FunctionEntry
}

// Parse collects the directives of file.
func Parse(fset *token.FileSet, file *ast.File) *File {
	return &File{
		Ignores:     BuildIgnoreMap(fset, file),
		IgnoreFuncs: BuildFunctionSet(fset, file, IsIgnoreDirective),
		DumpFuncs:   BuildFunctionSet(fset, file, IsDumpDirective),
	}
}

// IgnoresFunc reports whether the function named at pos is ignored, marking
// its directive used.
func (f *File) IgnoresFunc(pos token.Pos) bool {
	if f == nil {
		return false
	}
	entry, ok := f.IgnoreFuncs[pos]
	if ok {
		f.Ignores.MarkUsed(entry.DirectiveLine)
	}
	return ok
}

// DumpsFunc reports whether the function named at pos carries a dump directive.
func (f *File) DumpsFunc(pos token.Pos) bool {
	if f == nil {
		return false
	}
	_, ok := f.DumpFuncs[pos]
	return ok
}
