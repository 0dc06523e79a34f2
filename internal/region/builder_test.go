package region_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpyw/regionize/internal/cfg"
	"github.com/mpyw/regionize/internal/debug"
	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/region"
)

var (
	regI = ir.Reg{Num: 1, Name: "i"}
	regN = ir.Reg{Num: 2, Name: "n"}
	regC = ir.Reg{Num: 3, Name: "c"}
	regR = ir.Reg{Num: 4, Name: "r"}
	regX = ir.Reg{Num: 5, Name: "x"}
)

// fixture is a hand-built method with numbered blocks.
type fixture struct {
	m *ir.Method
	b []*ir.Block
}

func newFixture(n int) *fixture {
	f := &fixture{m: ir.NewMethod("fixture")}
	for range n {
		f.b = append(f.b, f.m.NewBlock())
	}
	return f
}

func (f *fixture) code(i int, insns ...*ir.Instr) *fixture {
	f.b[i].Append(insns...)
	return f
}

func (f *fixture) jump(from, to int) *fixture {
	f.m.Connect(f.b[from], ir.EdgeFallthrough, f.b[to])
	return f
}

// branch ends block from with `if cond` and connects both edges.
func (f *fixture) branch(from int, cond ir.Arg, t, fl int) *fixture {
	f.b[from].Append(ir.NewIf(cond))
	f.m.Connect(f.b[from], ir.EdgeTrue, f.b[t])
	f.m.Connect(f.b[from], ir.EdgeFalse, f.b[fl])
	return f
}

func (f *fixture) ret(i int) *fixture {
	f.b[i].Append(ir.NewReturn())
	f.b[i].Add(ir.FlagReturn)
	return f
}

func (f *fixture) build(t *testing.T, opts region.Options) (*region.Tree, *cfg.Info) {
	t.Helper()
	info := cfg.New().Analyze(f.m)
	tree, err := region.Build(context.Background(), f.m, info, opts)
	require.NoError(t, err)
	return tree, info
}

func call(name string, args ...ir.Arg) *ir.Instr { return ir.NewInvoke(name, nil, args...) }

func less(x, y ir.Reg) ir.Arg { return ir.Wrap(ir.NewCompare(ir.Lt, ir.RegArg(x), ir.RegArg(y))) }

// regionsOf lists the regions of the tree in depth-first order.
func regionsOf(tree *region.Tree) []*region.Region {
	var out []*region.Region
	tree.Walk(region.Visitor{Enter: func(_ region.ID, r *region.Region) bool {
		out = append(out, r)
		return true
	}})
	return out
}

func firstOf(t *testing.T, tree *region.Tree, kind region.Kind) *region.Region {
	t.Helper()
	for _, r := range regionsOf(tree) {
		if r.Kind == kind {
			return r
		}
	}
	require.Failf(t, "region not found", "no %s region", kind)
	return nil
}

func onlyBlocks(t *testing.T, tree *region.Tree, c region.Container) []*ir.Block {
	t.Helper()
	require.True(t, c.IsRegion(), "container must hold a region")
	var out []*ir.Block
	for _, child := range tree.Get(c.Region).Children {
		require.True(t, child.IsBlock())
		out = append(out, child.Block)
	}
	return out
}

// jumpsOf returns the blocks of m ending in a jump of kind op.
func jumpsOf(m *ir.Method, op ir.Op) []*ir.Block {
	var out []*ir.Block
	for _, b := range m.Blocks() {
		if last := b.Last(); last != nil && last.Op == op {
			out = append(out, b)
		}
	}
	return out
}

func messages(m *ir.Method) []string {
	var out []string
	for _, w := range m.Warnings() {
		out = append(out, w.Message)
	}
	return out
}

// =============================================================================
// Loops
// =============================================================================

// for i = 0; i < n; i = i + 1 { println(i) }
func TestBuildForLoop(t *testing.T) {
	t.Parallel()

	init := ir.NewConst(regI, ir.IntLit(0))
	incr := ir.NewArith(ir.Add, regI, ir.RegArg(regI), ir.IntLit(1))
	f := newFixture(5).
		code(0, init).jump(0, 1).
		branch(1, less(regI, regN), 2, 4).
		code(2, call("println", ir.RegArg(regI))).jump(2, 3).
		code(3, incr).jump(3, 1).
		ret(4)

	tree, _ := f.build(t, region.Options{})

	root := tree.Get(tree.Root())
	require.Len(t, root.Children, 3)
	assert.Same(t, f.b[0], root.Children[0].Block)
	assert.Same(t, f.b[4], root.Children[2].Block)

	loop := tree.Get(root.Children[1].Region)
	require.Equal(t, region.KindLoop, loop.Kind)
	assert.Equal(t, region.LoopFor, loop.Loop.Type)
	assert.Same(t, f.b[1], loop.Loop.Header)
	assert.Same(t, init, loop.Loop.Init)
	assert.Same(t, incr, loop.Loop.Incr)
	assert.True(t, init.Has(ir.DontGenerate))
	assert.True(t, incr.Has(ir.DontGenerate))
	assert.Equal(t, region.Edge{From: f.b[1], To: f.b[4]}, loop.Loop.Exit)
	assert.False(t, loop.Loop.Inverted)
	assert.Equal(t, []*ir.Block{f.b[2], f.b[3]}, onlyBlocks(t, tree, loop.Loop.Body))

	assert.Equal(t, []*ir.Block{f.b[0], f.b[1], f.b[2], f.b[3], f.b[4]}, tree.Blocks())
	assert.Empty(t, f.m.Warnings())
}

// A latch update of a register the condition does not read stays a while.
func TestBuildWhileLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(5).
		code(0, ir.NewConst(regI, ir.IntLit(0))).jump(0, 1).
		branch(1, ir.RegArg(regC), 2, 4).
		code(2, call("step")).jump(2, 3).
		code(3, ir.NewArith(ir.Add, regI, ir.RegArg(regI), ir.IntLit(1))).jump(3, 1).
		ret(4)

	tree, _ := f.build(t, region.Options{})

	loop := firstOf(t, tree, region.KindLoop).Loop
	assert.Equal(t, region.LoopWhile, loop.Type)
	assert.Nil(t, loop.Init)
	assert.Nil(t, loop.Incr)
}

// Inverted while: the false edge stays in the loop.
func TestBuildWhileLoopInverted(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		jump(0, 1).
		branch(1, ir.RegArg(regC), 3, 2).
		code(2, call("step")).jump(2, 1).
		ret(3)

	tree, _ := f.build(t, region.Options{})

	loop := firstOf(t, tree, region.KindLoop).Loop
	assert.Equal(t, region.LoopWhile, loop.Type)
	assert.True(t, loop.Inverted)
	assert.Equal(t, region.Edge{From: f.b[1], To: f.b[3]}, loop.Exit)
}

// do { step() } while (c)
func TestBuildDoWhile(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		jump(0, 1).
		code(1, call("step")).jump(1, 2).
		branch(2, ir.RegArg(regC), 1, 3).
		ret(3)

	tree, _ := f.build(t, region.Options{})

	loop := firstOf(t, tree, region.KindLoop).Loop
	assert.Equal(t, region.LoopDoWhile, loop.Type)
	assert.Same(t, f.b[2], loop.Header)
	assert.Equal(t, []*ir.Block{f.b[1]}, onlyBlocks(t, tree, loop.Body))
	// The condition renders after the body.
	assert.Equal(t, []*ir.Block{f.b[0], f.b[1], f.b[2], f.b[3]}, tree.Blocks())
	assert.Empty(t, f.m.Warnings())
}

// for { step(); if c { break }; other() }
func TestBuildEndlessLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		jump(0, 1).
		code(1, call("step")).branch(1, ir.RegArg(regC), 3, 2).
		code(2, call("other")).jump(2, 1).
		ret(3)

	tree, _ := f.build(t, region.Options{})

	loop := firstOf(t, tree, region.KindLoop).Loop
	assert.Equal(t, region.LoopEndless, loop.Type)
	assert.Nil(t, loop.Header)
	assert.Equal(t, region.Edge{From: f.b[1], To: f.b[3]}, loop.Exit)

	// The exit edge leaves through a break.
	breaks := jumpsOf(f.m, ir.OpBreak)
	require.Len(t, breaks, 1)
	brk := breaks[0]
	assert.Same(t, f.b[3], brk.Last().Target)
	assert.Empty(t, brk.Last().Text)
	assert.True(t, brk.Has(ir.FlagSynthetic))
	assert.Same(t, brk, f.b[1].Succ(ir.EdgeTrue))

	cond := firstOf(t, tree, region.KindIf).If
	assert.Same(t, f.b[1], cond.Cond)
	assert.True(t, cond.Inverted)
	assert.Equal(t, []*ir.Block{f.b[2]}, onlyBlocks(t, tree, cond.Then))
	assert.Equal(t, region.BlockContainer(brk), cond.Else)

	assert.ElementsMatch(t, f.m.Blocks(), tree.Blocks())
	assert.Len(t, tree.Blocks(), 5)
	assert.Empty(t, f.m.Warnings())
}

// while (c) { if (d) break; work() }
func TestBuildLoopBreak(t *testing.T) {
	t.Parallel()

	f := newFixture(5).
		jump(0, 1).
		branch(1, ir.RegArg(regC), 2, 4).
		branch(2, ir.RegArg(regX), 4, 3).
		code(3, call("work")).jump(3, 1).
		ret(4)

	tree, _ := f.build(t, region.Options{})

	loop := firstOf(t, tree, region.KindLoop)
	assert.Equal(t, region.LoopWhile, loop.Loop.Type)
	assert.Empty(t, loop.Label)

	breaks := jumpsOf(f.m, ir.OpBreak)
	require.Len(t, breaks, 1)
	brk := breaks[0]
	assert.Same(t, f.b[4], brk.Last().Target)
	assert.Equal(t, "break", brk.Last().String())
	assert.Same(t, brk, f.b[2].Succ(ir.EdgeTrue))
	assert.Equal(t, []*ir.Block{f.b[2]}, brk.Preds())
	assert.ElementsMatch(t, []*ir.Block{f.b[1], brk}, f.b[4].Preds())
	assert.Empty(t, jumpsOf(f.m, ir.OpGoto))

	assert.ElementsMatch(t, f.m.Blocks(), tree.Blocks())
	assert.Contains(t, debug.FormatTree("fixture", tree), "break")
	assert.Empty(t, f.m.Warnings())
}

// outer: while (c) { while (d) { if (x) break outer; work() }; next() }
func TestBuildLabeledBreak(t *testing.T) {
	t.Parallel()

	f := newFixture(7).
		jump(0, 1).
		branch(1, ir.RegArg(regC), 2, 6).
		branch(2, ir.RegArg(regR), 3, 5).
		branch(3, ir.RegArg(regX), 6, 4).
		code(4, call("work")).jump(4, 2).
		code(5, call("next")).jump(5, 1).
		ret(6)

	tree, _ := f.build(t, region.Options{})

	var loops []*region.Region
	for _, r := range regionsOf(tree) {
		if r.Kind == region.KindLoop {
			loops = append(loops, r)
		}
	}
	require.Len(t, loops, 2)
	outer, inner := loops[0], loops[1]
	assert.Same(t, f.b[1], outer.Loop.Header)
	assert.Same(t, f.b[2], inner.Loop.Header)

	breaks := jumpsOf(f.m, ir.OpBreak)
	require.Len(t, breaks, 1)
	insn := breaks[0].Last()
	assert.Same(t, f.b[6], insn.Target)
	assert.NotEmpty(t, outer.Label)
	assert.Empty(t, inner.Label)
	assert.Equal(t, "break "+outer.Label, insn.String())
	assert.Contains(t, debug.FormatTree("fixture", tree), outer.Label+": ")
	assert.Empty(t, f.m.Warnings())
}

// =============================================================================
// Conditionals
// =============================================================================

func TestBuildIfElse(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		branch(0, ir.RegArg(regC), 1, 2).
		code(1, call("a")).jump(1, 3).
		code(2, call("b")).jump(2, 3).
		ret(3)

	tree, _ := f.build(t, region.Options{})

	root := tree.Get(tree.Root())
	require.Len(t, root.Children, 2)
	d := tree.Get(root.Children[0].Region).If
	require.NotNil(t, d)
	assert.Same(t, f.b[0], d.Cond)
	assert.False(t, d.Inverted)
	assert.Equal(t, []*ir.Block{f.b[1]}, onlyBlocks(t, tree, d.Then))
	assert.Equal(t, []*ir.Block{f.b[2]}, onlyBlocks(t, tree, d.Else))
	assert.Same(t, f.b[3], root.Children[1].Block)
}

// if c { a() }
func TestBuildIfWithoutElse(t *testing.T) {
	t.Parallel()

	f := newFixture(3).
		branch(0, ir.RegArg(regC), 1, 2).
		code(1, call("a")).jump(1, 2).
		ret(2)

	tree, _ := f.build(t, region.Options{})

	d := firstOf(t, tree, region.KindIf).If
	assert.Equal(t, []*ir.Block{f.b[1]}, onlyBlocks(t, tree, d.Then))
	assert.True(t, d.Else.IsEmpty())
	assert.False(t, d.Inverted)
}

// if !c { a() }: only the false arm is owned.
func TestBuildIfInverted(t *testing.T) {
	t.Parallel()

	f := newFixture(3).
		branch(0, ir.RegArg(regC), 2, 1).
		code(1, call("a")).jump(1, 2).
		ret(2)

	tree, _ := f.build(t, region.Options{})

	d := firstOf(t, tree, region.KindIf).If
	assert.True(t, d.Inverted)
	assert.Equal(t, []*ir.Block{f.b[1]}, onlyBlocks(t, tree, d.Then))
}

func TestBuildTernary(t *testing.T) {
	t.Parallel()

	newDiamond := func() *fixture {
		return newFixture(4).
			branch(0, ir.RegArg(regC), 1, 2).
			code(1, ir.NewMove(regR, ir.IntLit(1))).jump(1, 3).
			code(2, ir.NewMove(regR, ir.IntLit(2))).jump(2, 3).
			ret(3)
	}

	t.Run("collapsed", func(t *testing.T) {
		t.Parallel()
		f := newDiamond()
		tree, _ := f.build(t, region.Options{Ternary: true})

		assert.Equal(t, []*ir.Block{f.b[0], f.b[3]}, tree.Blocks())
		assert.Equal(t, "r = c ? 1 : 2", f.b[0].Last().String())
		assert.True(t, f.b[1].Has(ir.FlagAddedToRegion))
		assert.True(t, f.b[2].Has(ir.FlagAddedToRegion))
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newDiamond()
		tree, _ := f.build(t, region.Options{})

		assert.Len(t, tree.Blocks(), 4)
		assert.Equal(t, ir.OpIf, f.b[0].Last().Op)
	})
}

// =============================================================================
// Switch
// =============================================================================

func TestBuildSwitch(t *testing.T) {
	t.Parallel()

	f := newFixture(6)
	f.b[0].Append(ir.NewSwitch(ir.RegArg(regX)))
	f.m.ConnectCase(f.b[0], 5, f.b[1])
	f.m.ConnectCase(f.b[0], 1, f.b[2])
	f.m.ConnectCase(f.b[0], 3, f.b[3])
	f.m.ConnectCase(f.b[0], 7, f.b[2])
	f.m.Connect(f.b[0], ir.EdgeFallthrough, f.b[4])
	for i := 1; i <= 4; i++ {
		f.code(i, call("arm")).jump(i, 5)
	}
	f.ret(5)

	tree, _ := f.build(t, region.Options{})

	sw := firstOf(t, tree, region.KindSwitch).Switch
	assert.Same(t, f.b[0], sw.Cond)
	require.Len(t, sw.Cases, 3)
	assert.Equal(t, []int64{1, 7}, sw.Cases[0].Values)
	assert.Equal(t, []int64{3}, sw.Cases[1].Values)
	assert.Equal(t, []int64{5}, sw.Cases[2].Values)
	assert.Equal(t, []*ir.Block{f.b[2]}, onlyBlocks(t, tree, sw.Cases[0].Body))
	assert.Equal(t, []*ir.Block{f.b[1]}, onlyBlocks(t, tree, sw.Cases[2].Body))
	assert.Equal(t, []*ir.Block{f.b[4]}, onlyBlocks(t, tree, sw.Default))

	root := tree.Get(tree.Root())
	assert.Same(t, f.b[5], root.Children[len(root.Children)-1].Block)
	assert.Empty(t, f.m.Warnings())
}

// A case landing on the merge block gets an empty body.
func TestBuildSwitchCaseToMerge(t *testing.T) {
	t.Parallel()

	f := newFixture(4)
	f.b[0].Append(ir.NewSwitch(ir.RegArg(regX)))
	f.m.ConnectCase(f.b[0], 1, f.b[1])
	f.m.ConnectCase(f.b[0], 2, f.b[3])
	f.m.Connect(f.b[0], ir.EdgeFallthrough, f.b[2])
	f.code(1, call("one")).jump(1, 3)
	f.code(2, call("other")).jump(2, 3)
	f.ret(3)

	tree, _ := f.build(t, region.Options{})

	sw := firstOf(t, tree, region.KindSwitch).Switch
	require.Len(t, sw.Cases, 2)
	assert.Equal(t, []int64{2}, sw.Cases[1].Values)
	assert.True(t, sw.Cases[1].Body.IsEmpty())
	assert.Len(t, tree.Blocks(), 4)
}

// =============================================================================
// Synchronized
// =============================================================================

func syncFixture(release bool) *fixture {
	lock := ir.Lit("s.mu")
	f := newFixture(4).
		code(0, call("before")).jump(0, 1).
		code(1, ir.NewMonitorEnter(lock)).jump(1, 2).
		code(2, call("inside"))
	if release {
		f.code(2, ir.NewMonitorExit(lock)).jump(2, 3).ret(3)
	} else {
		f.ret(2)
		f.code(3, call("unreachable"))
	}
	return f
}

func TestBuildSynchronized(t *testing.T) {
	t.Parallel()

	f := syncFixture(true)
	tree, _ := f.build(t, region.Options{})

	r := firstOf(t, tree, region.KindSynchronized)
	assert.Same(t, f.b[1].Last(), r.Sync.Enter)
	assert.Equal(t, []*ir.Block{f.b[1], f.b[2]}, onlyBlocks(t, tree, region.RegionContainer(r.Sync.Body)))
	root := tree.Get(tree.Root())
	assert.Same(t, f.b[3], root.Children[len(root.Children)-1].Block)
	assert.Empty(t, f.m.Warnings())
}

func TestBuildSynchronizedLeak(t *testing.T) {
	t.Parallel()

	f := syncFixture(false)
	tree, _ := f.build(t, region.Options{})

	for _, r := range regionsOf(tree) {
		assert.NotEqual(t, region.KindSynchronized, r.Kind)
	}
	require.Len(t, f.m.Warnings(), 1)
	assert.Contains(t, f.m.Warnings()[0].Message, "monitor s.mu is not released on every path")
	assert.Equal(t, []*ir.Block{f.b[0], f.b[1], f.b[2]}, tree.Blocks())
}

// =============================================================================
// Try/Catch
// =============================================================================

// try { f() } catch (E) { h() }; g(); return
func TestBuildTryCatch(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		code(0, call("f")).jump(0, 1).
		code(1, call("g")).jump(1, 3).
		code(2, call("h")).jump(2, 1).
		ret(3)
	f.m.ConnectHandler(f.b[0], "E", f.b[2])

	tree, _ := f.build(t, region.Options{})

	d := firstOf(t, tree, region.KindTryCatch).Try
	assert.Equal(t, []*ir.Block{f.b[0]}, onlyBlocks(t, tree, d.Try))
	require.Len(t, d.Catches, 1)
	assert.Equal(t, []string{"E"}, d.Catches[0].Types)
	assert.Equal(t, []*ir.Block{f.b[2]}, onlyBlocks(t, tree, d.Catches[0].Handler))
	assert.True(t, d.Finally.IsEmpty())
	assert.Len(t, tree.Blocks(), 4)
	assert.Empty(t, f.m.Warnings())
}

func TestBuildTryFinallyAndMonitorCleanup(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		code(0, call("f")).jump(0, 1).
		ret(1).
		code(2, call("cleanup")).jump(2, 1).
		code(3, ir.NewMonitorExit(ir.Lit("s.mu")), ir.NewThrow(ir.RegArg(regX)))
	f.m.ConnectHandler(f.b[0], ir.FinallyType, f.b[2])
	f.m.ConnectHandler(f.b[0], ir.CatchAll, f.b[3])

	tree, _ := f.build(t, region.Options{})

	d := firstOf(t, tree, region.KindTryCatch).Try
	assert.Empty(t, d.Catches)
	assert.Equal(t, []*ir.Block{f.b[2]}, onlyBlocks(t, tree, d.Finally))
	assert.True(t, f.b[3].Has(ir.FlagRemove))
	assert.NotContains(t, tree.Blocks(), f.b[3])
}

// =============================================================================
// Fallbacks
// =============================================================================

func TestBuildIrreducible(t *testing.T) {
	t.Parallel()

	f := newFixture(4).
		branch(0, ir.RegArg(regC), 1, 2).
		code(1, call("a")).branch(1, ir.RegArg(regX), 2, 3).
		code(2, call("b")).jump(2, 1).
		ret(3)

	tree, _ := f.build(t, region.Options{})

	var flat *region.Region
	for _, r := range regionsOf(tree) {
		if r.Flat {
			flat = r
		}
	}
	require.NotNil(t, flat)
	var flatBlocks []*ir.Block
	for _, c := range flat.Children {
		flatBlocks = append(flatBlocks, c.Block)
	}
	assert.Equal(t, []*ir.Block{f.b[1], f.b[2]}, flatBlocks)
	assert.Equal(t, []string{"irreducible control flow: 2 blocks rendered with explicit jumps"}, messages(f.m))

	// The edge into the flat sequence's second block becomes a goto, which
	// flat sequences render with labels anyway.
	gotos := jumpsOf(f.m, ir.OpGoto)
	require.Len(t, gotos, 1)
	assert.Same(t, f.b[2], gotos[0].Last().Target)
	cond := firstOf(t, tree, region.KindIf).If
	assert.Same(t, f.b[0], cond.Cond)
	assert.Equal(t, region.BlockContainer(gotos[0]), cond.Then)
	assert.True(t, cond.Inverted)

	// Every block is placed exactly once.
	assert.ElementsMatch(t, f.m.Blocks(), tree.Blocks())
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	t.Run("no entry", func(t *testing.T) {
		t.Parallel()
		m := ir.NewMethod("empty")
		_, err := region.Build(context.Background(), m, cfg.New().Analyze(m), region.Options{})
		require.ErrorIs(t, err, region.ErrNoEntry)
	})

	t.Run("inconsistent edges", func(t *testing.T) {
		t.Parallel()
		f := newFixture(1)
		f.m.Connect(f.b[0], ir.EdgeFallthrough, ir.NewMethod("other").NewBlock())
		_, err := region.Build(context.Background(), f.m, cfg.New().Analyze(f.m), region.Options{})
		require.ErrorIs(t, err, ir.ErrInconsistentEdges)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(2).jump(0, 1).ret(1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := region.Build(ctx, f.m, cfg.New().Analyze(f.m), region.Options{})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewStub(t *testing.T) {
	t.Parallel()

	tree := region.NewStub("structuring failed")
	root := tree.Get(tree.Root())
	assert.Equal(t, region.KindSequence, root.Kind)
	assert.Equal(t, "structuring failed", root.Comment)
	assert.Empty(t, tree.Blocks())
}
