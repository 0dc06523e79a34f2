package lower_test

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/lower"
	"github.com/mpyw/regionize/internal/pipeline"
	"github.com/mpyw/regionize/internal/region"
)

// function builds src as package p and returns its function name.
func function(t *testing.T, src, name string) *ssa.Function {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, 0)
	require.NoError(t, err)
	conf := &types.Config{Importer: importer.Default()}
	pkg, _, err := ssautil.BuildPackage(conf, fset, types.NewPackage("p", "p"), []*ast.File{f}, ssa.SanityCheckFunctions)
	require.NoError(t, err)
	fn := pkg.Func(name)
	require.NotNil(t, fn, "function %s", name)
	return fn
}

// structure lowers fn and runs the structuring pipeline on it.
func structure(t *testing.T, fn *ssa.Function) (*ir.Method, *pipeline.Result) {
	t.Helper()
	m, err := lower.Function(fn)
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	res := pipeline.Run(context.Background(), m, pipeline.DefaultOptions())
	require.False(t, res.Failed(), "structuring failed: %v", res.Err)
	return m, res
}

func kinds(tree *region.Tree) map[region.Kind]int {
	out := make(map[region.Kind]int)
	tree.Walk(region.Visitor{Enter: func(_ region.ID, r *region.Region) bool {
		out[r.Kind]++
		return true
	}})
	return out
}

func TestFunctionUnsupported(t *testing.T) {
	t.Parallel()

	_, err := lower.Function(nil)
	require.ErrorIs(t, err, lower.ErrUnsupported)

	fn := function(t, "package p\n\nfunc external()\n", "external")
	_, err = lower.Function(fn)
	require.ErrorIs(t, err, lower.ErrUnsupported)
}

func TestFunctionIf(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
`, "abs")
	m, res := structure(t, fn)

	assert.Equal(t, 1, kinds(res.Tree)[region.KindIf])
	assert.Empty(t, res.Warnings)

	entry := m.Entry()
	require.True(t, entry.EndsWith(ir.OpIf))
	assert.Equal(t, "if (x < 0)", entry.Last().String())
	for _, b := range m.Blocks() {
		if b.EndsWith(ir.OpReturn) {
			assert.True(t, b.Has(ir.FlagReturn), "%s must be flagged RETURN", b)
		}
	}
}

func TestFunctionLoop(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

func sum(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}
`, "sum")
	m, res := structure(t, fn)

	assert.Equal(t, 1, kinds(res.Tree)[region.KindLoop])
	assert.Empty(t, res.Warnings)

	// Phi registers are named after their variables and written in place.
	var lines []string
	for _, b := range m.Blocks() {
		for _, insn := range b.Instrs() {
			lines = append(lines, insn.String())
		}
	}
	assert.Contains(t, lines, "s = 0")
	assert.Contains(t, lines, "i = 0")
	assert.Contains(t, lines, "return s")
}

func TestFunctionSwitch(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

func name(x int) string {
	switch x {
	case 3:
		return "three"
	case 1:
		return "one"
	case 2:
		return "two"
	}
	return "many"
}
`, "name")
	m, res := structure(t, fn)

	var sw *ir.Block
	for _, b := range m.Blocks() {
		if b.EndsWith(ir.OpSwitch) {
			require.Nil(t, sw, "only one switch expected")
			sw = b
		}
	}
	require.NotNil(t, sw)
	var values []int64
	for _, e := range sw.Succs() {
		if e.Kind == ir.EdgeCase {
			values = append(values, e.Value)
		}
	}
	assert.ElementsMatch(t, []int64{1, 2, 3}, values)
	assert.NotNil(t, sw.Succ(ir.EdgeFallthrough), "default edge")

	var cases [][]int64
	res.Tree.Walk(region.Visitor{Enter: func(_ region.ID, r *region.Region) bool {
		if r.Kind == region.KindSwitch {
			for _, c := range r.Switch.Cases {
				cases = append(cases, c.Values)
			}
		}
		return true
	}})
	assert.Equal(t, [][]int64{{1}, {2}, {3}}, cases)
	assert.Empty(t, res.Warnings)
}

func TestFunctionMutex(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

import "sync"

type counter struct {
	mu sync.Mutex
	n  int
}

func incr(c *counter) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}
`, "incr")
	m, err := lower.Function(fn)
	require.NoError(t, err)

	var enters, exits []string
	for _, b := range m.Blocks() {
		for _, insn := range b.Instrs() {
			switch insn.Op {
			case ir.OpMonitorEnter:
				assert.Equal(t, 1, b.Len(), "monitor-enter must sit alone in its block")
				enters = append(enters, insn.Arg(0).String())
			case ir.OpMonitorExit:
				assert.Same(t, insn, b.Last(), "monitor-exit must end its block")
				exits = append(exits, insn.Arg(0).String())
			}
		}
	}
	assert.Equal(t, []string{"c.mu"}, enters)
	assert.Equal(t, []string{"c.mu"}, exits)

	res := pipeline.Run(context.Background(), m, pipeline.DefaultOptions())
	require.False(t, res.Failed())
	assert.Equal(t, 1, kinds(res.Tree)[region.KindSynchronized])
	assert.Empty(t, res.Warnings)
}

func TestFunctionDeferredUnlock(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

import "sync"

var mu sync.Mutex

func get(m map[string]int, k string) int {
	mu.Lock()
	defer mu.Unlock()
	return m[k]
}
`, "get")
	m, res := structure(t, fn)

	var exits int
	for _, b := range m.Blocks() {
		for _, insn := range b.Instrs() {
			assert.NotEqual(t, "rundefers", insn.String())
			if insn.Op == ir.OpMonitorExit {
				exits++
				assert.Empty(t, b.Succs())
				assert.Equal(t, ir.OpReturn, b.Last().Op)
			}
		}
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, 1, kinds(res.Tree)[region.KindSynchronized])
	assert.Empty(t, res.Warnings)
}

func TestFunctionDeferredUnlockEveryExit(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

import "sync"

var mu sync.Mutex

func find(xs []int, x int) bool {
	mu.Lock()
	defer mu.Unlock()
	if x < 0 {
		panic("negative")
	}
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
`, "find")
	m, res := structure(t, fn)

	var exits, throws int
	for _, b := range m.Blocks() {
		for _, insn := range b.Instrs() {
			switch insn.Op {
			case ir.OpMonitorExit:
				exits++
			case ir.OpThrow:
				throws++
			}
		}
	}
	assert.Equal(t, 1, throws)
	assert.Equal(t, 3, exits, "one release per return and one before the panic")
	assert.Equal(t, 1, kinds(res.Tree)[region.KindSynchronized])
	assert.Empty(t, res.Warnings)
}

func TestFunctionDeferredUnlockInLoop(t *testing.T) {
	t.Parallel()

	fn := function(t, `package p

import "sync"

func each(locks []*sync.Mutex) {
	for _, mu := range locks {
		mu.Lock()
		defer mu.Unlock()
	}
}
`, "each")
	m, res := structure(t, fn)

	var opaque []string
	for _, b := range m.Blocks() {
		for _, insn := range b.Instrs() {
			assert.NotEqual(t, ir.OpMonitorExit, insn.Op)
			if insn.Op == ir.OpOther {
				opaque = append(opaque, insn.String())
			}
		}
	}
	assert.Contains(t, opaque, "rundefers")
	assert.Zero(t, kinds(res.Tree)[region.KindSynchronized])
}
