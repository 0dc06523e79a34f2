package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpyw/regionize/internal/ir"
)

func reg(n int, name string) ir.Reg { return ir.Reg{Num: n, Name: name} }

func TestInstrString(t *testing.T) {
	t.Parallel()

	i := reg(0, "i")
	n := reg(1, "n")

	tests := []struct {
		name string
		insn *ir.Instr
		want string
	}{
		{"move", ir.NewMove(i, ir.IntLit(0)), "i = 0"},
		{"arith", ir.NewArith(ir.Add, i, ir.RegArg(i), ir.IntLit(1)), "i = i + 1"},
		{"if wrapped compare", ir.NewIf(ir.Wrap(ir.NewCompare(ir.Lt, ir.RegArg(i), ir.RegArg(n)))), "if (i < n)"},
		{"invoke without result", ir.NewInvoke("println", nil, ir.RegArg(i)), "println(i)"},
		{"return", ir.NewReturn(ir.RegArg(i)), "return i"},
		{"bare return", ir.NewReturn(), "return"},
		{"monitor", ir.NewMonitorEnter(ir.Lit("s.mu")), "monitor-enter(s.mu)"},
		{"ternary", ir.NewTernary(i, ir.RegArg(n), ir.IntLit(1), ir.IntLit(2)), "i = n ? 1 : 2"},
		{"store", ir.NewStore(ir.RegArg(n), ir.IntLit(3)), "*n <- 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.insn.String())
		})
	}
}

func TestCompoundString(t *testing.T) {
	t.Parallel()

	i := reg(0, "i")
	insn := ir.NewArith(ir.Mul, i, ir.RegArg(i), ir.IntLit(3))
	insn.Compound = true
	assert.Equal(t, "i *= 3", insn.String())

	inc := ir.NewArith(ir.Sub, i, ir.RegArg(i), ir.IntLit(1))
	inc.Compound = true
	inc.Add(ir.Increment)
	assert.Equal(t, "i--", inc.String())
}

func TestWrapTwicePanics(t *testing.T) {
	t.Parallel()

	insn := ir.NewCompare(ir.Eq, ir.IntLit(1), ir.IntLit(2))
	ir.Wrap(insn)
	assert.True(t, insn.IsWrapped())
	assert.Panics(t, func() { ir.Wrap(insn) })
}

func TestReadsThroughWrappedOperands(t *testing.T) {
	t.Parallel()

	x := reg(3, "x")
	inner := ir.NewArith(ir.Add, reg(4, ""), ir.RegArg(x), ir.IntLit(1))
	outer := ir.NewInvoke("f", nil, ir.Wrap(inner))

	assert.True(t, outer.Reads(x))
	assert.False(t, outer.Reads(reg(9, "")))
}

func TestClone(t *testing.T) {
	t.Parallel()

	i := reg(0, "i")
	orig := ir.NewArith(ir.Add, i, ir.RegArg(i), ir.IntLit(1))
	c := orig.Clone()
	c.Args[1] = ir.IntLit(2)
	c.Result.Name = "j"

	assert.Equal(t, "i = i + 1", orig.String())
	assert.False(t, c.IsWrapped())
}

func TestBlockRewrites(t *testing.T) {
	t.Parallel()

	m := ir.NewMethod("m")
	b := m.NewBlock()
	a := ir.NewNop()
	c := ir.NewMove(reg(0, "x"), ir.IntLit(1))
	b.Append(a, c)

	t.Run("replace keeps position", func(t *testing.T) {
		repl := ir.NewMove(reg(0, "x"), ir.IntLit(2))
		require.NoError(t, b.Replace(c, repl))
		assert.Same(t, repl, b.Last())
		c = repl
	})

	t.Run("wrapped instruction cannot be removed", func(t *testing.T) {
		w := ir.NewCompare(ir.Eq, ir.IntLit(1), ir.IntLit(1))
		ir.Wrap(w)
		err := b.Remove(w)
		require.ErrorIs(t, err, ir.ErrInvalidRewrite)
	})

	t.Run("wrapped replacement is rejected", func(t *testing.T) {
		w := ir.NewNop()
		ir.Wrap(w)
		require.ErrorIs(t, b.Replace(a, w), ir.ErrInvalidRewrite)
	})

	t.Run("missing instruction", func(t *testing.T) {
		err := b.Remove(ir.NewNop())
		require.ErrorIs(t, err, ir.ErrInvalidRewrite)
		require.ErrorIs(t, err, ir.ErrNotFound)
	})

	t.Run("snapshot restores", func(t *testing.T) {
		snap := b.Snapshot()
		require.NoError(t, b.Remove(a))
		assert.Equal(t, 1, b.Len())
		b.SetInstrs(snap)
		assert.Equal(t, 2, b.Len())
	})
}

func TestMethodEdges(t *testing.T) {
	t.Parallel()

	m := ir.NewMethod("m")
	b0, b1, b2 := m.NewBlock(), m.NewBlock(), m.NewBlock()
	m.Connect(b0, ir.EdgeTrue, b1)
	m.Connect(b0, ir.EdgeFalse, b2)
	m.ConnectHandler(b1, ir.CatchAll, b2)

	assert.Same(t, b0, m.Entry())
	assert.Equal(t, []*ir.Block{b1, b2}, b0.NormalSuccs())
	assert.Same(t, b1, b0.Succ(ir.EdgeTrue))
	assert.Len(t, b1.HandlerEdges(), 1)
	assert.Equal(t, []*ir.Block{b0, b1}, b2.Preds())
	require.NoError(t, m.Verify())

	other := ir.NewMethod("other").NewBlock()
	m.Connect(b2, ir.EdgeFallthrough, other)
	require.ErrorIs(t, m.Verify(), ir.ErrInconsistentEdges)
}

func TestJumpString(t *testing.T) {
	t.Parallel()

	m := ir.NewMethod("m")
	target := m.NewBlock()

	assert.Equal(t, "break", ir.NewBreak("", target).String())
	assert.Equal(t, "break L3", ir.NewBreak("L3", target).String())
	assert.Equal(t, "continue", ir.NewContinue("", target).String())
	assert.Equal(t, "continue L3", ir.NewContinue("L3", target).String())
	assert.Equal(t, "goto "+target.String(), ir.NewGoto(target).String())
	assert.True(t, ir.OpGoto.IsControl())
	assert.Same(t, target, ir.NewGoto(target).Target)
}

func TestSplitEdge(t *testing.T) {
	t.Parallel()

	m := ir.NewMethod("m")
	b0, b1, b2 := m.NewBlock(), m.NewBlock(), m.NewBlock()
	m.Connect(b0, ir.EdgeTrue, b1)
	m.Connect(b0, ir.EdgeFalse, b2)
	m.ConnectHandler(b0, ir.CatchAll, b2)

	nb := m.SplitEdge(b0, b2)
	require.NotNil(t, nb)
	assert.Same(t, nb, b0.Succ(ir.EdgeFalse))
	assert.Same(t, b1, b0.Succ(ir.EdgeTrue))
	assert.Equal(t, []*ir.Block{b2}, nb.NormalSuccs())
	assert.Equal(t, []*ir.Block{b0}, nb.Preds())
	// The handler edge still reaches b2 directly.
	require.Len(t, b0.HandlerEdges(), 1)
	assert.Same(t, b2, b0.HandlerEdges()[0].To)
	assert.ElementsMatch(t, []*ir.Block{b0, nb}, b2.Preds())
	require.NoError(t, m.Verify())

	assert.Nil(t, m.SplitEdge(b1, b2))
}

func TestWarningsAndErrors(t *testing.T) {
	t.Parallel()

	m := ir.NewMethod("m")
	b := m.NewBlock()
	m.Warn(b, "odd %d", 1)
	m.Warn(nil, "method-wide")

	require.Len(t, m.Warnings(), 2)
	assert.Equal(t, "odd 1 (at B0)", m.Warnings()[0].String())
	assert.Equal(t, "method-wide", m.Warnings()[1].String())

	assert.NoError(t, m.Err())
	m.MarkError(ir.ErrInconsistentEdges)
	assert.ErrorIs(t, m.Err(), ir.ErrInconsistentEdges)
}
