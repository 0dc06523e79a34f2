package directive

import (
	"go/parser"
	"go/token"
	"testing"
)

func TestIsIgnoreDirective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"exact match", "//regionize:ignore", true},
		{"with space", "// regionize:ignore", true},
		{"with extra spaces", "//  regionize:ignore", true},
		{"with comment", "//regionize:ignore // reason", true},
		{"wrong directive", "//regionize:dump", false},
		{"random comment", "// some comment", false},
		{"empty", "//", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsIgnoreDirective(tt.text); got != tt.expected {
				t.Errorf("IsIgnoreDirective(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestIsDumpDirective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"exact match", "//regionize:dump", true},
		{"with space", "// regionize:dump", true},
		{"wrong directive", "//regionize:ignore", false},
		{"other tool", "//othertool:dump", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsDumpDirective(tt.text); got != tt.expected {
				t.Errorf("IsDumpDirective(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

func TestIgnoreMapShouldIgnore(t *testing.T) {
	t.Parallel()

	t.Run("same line", func(t *testing.T) {
		t.Parallel()

		m := make(IgnoreMap)
		m[10] = &ignoreEntry{pos: token.Pos(100)}

		if !m.ShouldIgnore(10) {
			t.Error("ShouldIgnore(10) should return true (same line)")
		}
	})

	t.Run("next line", func(t *testing.T) {
		t.Parallel()

		m := make(IgnoreMap)
		m[20] = &ignoreEntry{pos: token.Pos(200)}

		if !m.ShouldIgnore(21) {
			t.Error("ShouldIgnore(21) should return true (previous line has ignore)")
		}
	})

	t.Run("non-ignored line", func(t *testing.T) {
		t.Parallel()

		m := make(IgnoreMap)
		m[10] = &ignoreEntry{pos: token.Pos(100)}

		if m.ShouldIgnore(5) {
			t.Error("ShouldIgnore(5) should return false")
		}
	})
}

func TestIgnoreMapFileLevel(t *testing.T) {
	t.Parallel()

	m := make(IgnoreMap)
	m[fileLevel] = &ignoreEntry{pos: token.Pos(1), used: true}

	if !m.ShouldIgnore(100) {
		t.Error("ShouldIgnore(100) should return true with file-level ignore")
	}
}

func TestIgnoreMapGetUnusedIgnores(t *testing.T) {
	t.Parallel()

	m := make(IgnoreMap)
	m[30] = &ignoreEntry{pos: token.Pos(300)}
	m[10] = &ignoreEntry{pos: token.Pos(100)}
	m[20] = &ignoreEntry{pos: token.Pos(200)}

	m.ShouldIgnore(20)

	unused := m.GetUnusedIgnores()
	if len(unused) != 2 {
		t.Fatalf("Expected 2 unused ignores, got %d", len(unused))
	}
	if unused[0] != token.Pos(100) || unused[1] != token.Pos(300) {
		t.Errorf("Expected positions [100 300] in order, got %v", unused)
	}
}

func TestIgnoreMapMarkUsed(t *testing.T) {
	t.Parallel()

	t.Run("mark existing entry", func(t *testing.T) {
		t.Parallel()

		m := make(IgnoreMap)
		m[10] = &ignoreEntry{pos: token.Pos(100)}

		m.MarkUsed(10)
		if unused := m.GetUnusedIgnores(); len(unused) != 0 {
			t.Error("Entry at line 10 should be marked as used")
		}
	})

	t.Run("mark non-existent line should not panic", func(t *testing.T) {
		t.Parallel()

		m := make(IgnoreMap)
		m.MarkUsed(999)
	})
}

func TestBuildIgnoreMapWithDocComment(t *testing.T) {
	t.Parallel()

	src := `// regionize:ignore
// Package test is a test package.
package test

func foo() {}
`
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "test.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	m := BuildIgnoreMap(fset, file)
	if !m.ShouldIgnore(5) {
		t.Error("Expected file-level ignore to affect line 5")
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	src := `package test

// regionize:ignore
func ignored() {}

//regionize:dump
func dumped() {}

func plain() {} //regionize:ignore
`
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "test.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}

	d := Parse(fset, file)
	if len(d.IgnoreFuncs) != 1 {
		t.Errorf("Expected 1 ignored function, got %d", len(d.IgnoreFuncs))
	}
	if len(d.DumpFuncs) != 1 {
		t.Errorf("Expected 1 dumped function, got %d", len(d.DumpFuncs))
	}
	if len(d.Ignores) != 2 {
		t.Errorf("Expected 2 line-level ignores, got %d", len(d.Ignores))
	}

	for pos := range d.IgnoreFuncs {
		if !d.IgnoresFunc(pos) {
			t.Error("IgnoresFunc should report the ignored function")
		}
	}
	// Only the same-line ignore on plain() is left unused.
	if unused := d.Ignores.GetUnusedIgnores(); len(unused) != 1 {
		t.Errorf("Expected 1 unused ignore, got %d", len(unused))
	}
}

func TestNilFile(t *testing.T) {
	t.Parallel()

	var d *File
	if d.IgnoresFunc(token.Pos(1)) || d.DumpsFunc(token.Pos(1)) {
		t.Error("nil File should match nothing")
	}
}
