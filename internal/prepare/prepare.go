// Package prepare runs the last peephole pass over block instructions before
// code generation.
//
// # Rewrites
//
//	nop                         → removed
//	monitor-enter/exit (L)      → removed inside a synchronized region on L
//	this(...)/super(...) self   → removed
//	a + (b - c)                 → operands of +/- rendered without parentheses
//	x = x + 1                   → x++      (x = x op y → x op= y)
//
// Each block is rewritten as a transaction: a rewrite that would break the
// wrapped-operand invariant restores the block's original list and records a
// warning.
package prepare

import (
	"errors"

	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/region"
)

// Method normalizes every block of m. It returns the number of blocks left in
// their original form because a rewrite failed.
func Method(m *ir.Method, tree *region.Tree) int {
	if m == nil || !m.HasCode() {
		return 0
	}
	locks := syncBlocks(tree)
	replaced := make(map[*ir.Instr]*ir.Instr)
	failed := 0
	for _, b := range m.Blocks() {
		if err := block(b, locks[b], replaced); err != nil {
			m.Warn(b, "normalization skipped: %v", err)
			failed++
		}
	}
	retarget(tree, replaced)
	return failed
}

// block applies all rewrites to b, rolling back on ErrInvalidRewrite.
func block(b *ir.Block, locks []ir.Arg, replaced map[*ir.Instr]*ir.Instr) error {
	snap := b.Snapshot()
	local := make(map[*ir.Instr]*ir.Instr)
	err := errors.Join(
		removeInstructions(b, locks),
		modifyArith(b, local),
	)
	if err != nil {
		b.SetInstrs(snap)
		return err
	}
	for _, insn := range b.Instrs() {
		removeBrackets(insn)
	}
	for old, repl := range local {
		replaced[old] = repl
	}
	return nil
}

// removeInstructions drops nops, self constructor calls and the monitors of
// the locks held by b's enclosing synchronized regions.
func removeInstructions(b *ir.Block, locks []ir.Arg) error {
	for _, insn := range b.Snapshot() {
		drop := false
		switch insn.Op {
		case ir.OpNop:
			drop = true
		case ir.OpMonitorEnter, ir.OpMonitorExit:
			drop = holds(locks, insn.Arg(0))
		case ir.OpConstructor:
			drop = insn.SelfCall
		}
		if !drop {
			continue
		}
		if err := b.Remove(insn); err != nil {
			return err
		}
	}
	return nil
}

// removeBrackets marks wrapped operands of additions and subtractions so they
// render without parentheses.
func removeBrackets(insn *ir.Instr) {
	additive := insn.Op == ir.OpArith && (insn.Arith == ir.Add || insn.Arith == ir.Sub)
	for _, a := range insn.Args {
		if a.Kind != ir.ArgWrap {
			continue
		}
		if additive {
			a.Insn.Add(ir.DontWrap)
		}
		removeBrackets(a.Insn)
	}
}

// modifyArith replaces `x = x op y` with a fresh compound instruction at the
// same list position. The original instruction is left untouched.
func modifyArith(b *ir.Block, replaced map[*ir.Instr]*ir.Instr) error {
	for _, insn := range b.Snapshot() {
		if insn.Op != ir.OpArith || insn.Compound || insn.Result == nil || len(insn.Args) != 2 {
			continue
		}
		if !insn.Arg(0).IsReg(*insn.Result) {
			continue
		}
		repl := compound(insn)
		if err := b.Replace(insn, repl); err != nil {
			return err
		}
		replaced[insn] = repl
	}
	return nil
}

func compound(insn *ir.Instr) *ir.Instr {
	repl := insn.Clone()
	repl.Compound = true
	y := repl.Arg(1)
	if y.Kind != ir.ArgLit || !y.IsInt || (repl.Arith != ir.Add && repl.Arith != ir.Sub) {
		return repl
	}
	switch y.Int {
	case 1:
		repl.Add(ir.Increment)
	case -1:
		if repl.Arith == ir.Add {
			repl.Arith = ir.Sub
		} else {
			repl.Arith = ir.Add
		}
		repl.Args[1] = ir.IntLit(1)
		repl.Add(ir.Increment)
	}
	return repl
}

func holds(locks []ir.Arg, lock ir.Arg) bool {
	for _, l := range locks {
		if l.SameAs(lock) {
			return true
		}
	}
	return false
}

// syncBlocks maps each block placed inside synchronized regions to the locks
// of those regions, outermost first.
func syncBlocks(tree *region.Tree) map[*ir.Block][]ir.Arg {
	out := make(map[*ir.Block][]ir.Arg)
	if tree == nil {
		return out
	}
	var held []ir.Arg
	tree.Walk(region.Visitor{
		Enter: func(_ region.ID, r *region.Region) bool {
			if r.Kind == region.KindSynchronized {
				held = append(held, r.Sync.Enter.Arg(0))
			}
			return true
		},
		Leave: func(_ region.ID, r *region.Region) {
			if r.Kind == region.KindSynchronized {
				held = held[:len(held)-1]
			}
		},
		Block: func(b *ir.Block) {
			if len(held) > 0 {
				out[b] = append(out[b], held...)
			}
		},
	})
	return out
}

// retarget points loop clauses at their rewritten instructions.
func retarget(tree *region.Tree, replaced map[*ir.Instr]*ir.Instr) {
	if tree == nil || len(replaced) == 0 {
		return
	}
	tree.Walk(region.Visitor{Enter: func(_ region.ID, r *region.Region) bool {
		if r.Kind != region.KindLoop {
			return true
		}
		if repl, ok := replaced[r.Loop.Init]; ok {
			r.Loop.Init = repl
		}
		if repl, ok := replaced[r.Loop.Incr]; ok {
			r.Loop.Incr = repl
		}
		return true
	}})
}
