package lower

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// =============================================================================
// Switch Recovery
// =============================================================================
//
// go/ssa lowers a switch into a chain of equality tests:
//
//	start: …; t = x == 1; if t → B1 else c2
//	c2:    t' = x == 3; if t' → B3 else c3
//	c3:    t'' = x == 5; if t'' → B5 else D
//
// An integer chain becomes a single switch at the end of start with one case
// edge per value and the default on the fallthrough edge; the chain blocks
// disappear.

type intCase struct {
	value int64
	body  *ssa.BasicBlock
}

type intSwitch struct {
	x     ssa.Value
	cases []intCase
	dflt  *ssa.BasicBlock
}

func (l *lowerer) findSwitches() {
	for _, sw := range ssautil.Switches(l.fn) {
		is, ok := l.intSwitch(sw)
		if !ok {
			continue
		}
		l.switches[sw.Start] = is
		for _, c := range sw.ConstCases {
			test := c.Block.Instrs[len(c.Block.Instrs)-1].(*ssa.If)
			if c.Block == sw.Start {
				l.absorbed[test] = true
				l.absorbed[test.Cond.(ssa.Instruction)] = true
				continue
			}
			l.skip[c.Block] = true
			l.owner[c.Block] = sw.Start
		}
	}
}

// intSwitch validates an ssautil switch and converts it.
func (l *lowerer) intSwitch(sw ssautil.Switch) (*intSwitch, bool) {
	if len(sw.TypeCases) > 0 || len(sw.ConstCases) < 2 || sw.Default == nil || sw.ConstCases[0].Block != sw.Start {
		return nil, false
	}
	if b, ok := sw.X.Type().Underlying().(*types.Basic); !ok || b.Info()&types.IsInteger == 0 {
		return nil, false
	}
	chain := make(map[*ssa.BasicBlock]bool)
	is := &intSwitch{x: sw.X, dflt: sw.Default}
	for _, c := range sw.ConstCases {
		v, ok := constInt(c.Value)
		if !ok || !isTest(c.Block) {
			return nil, false
		}
		if c.Block != sw.Start && (len(c.Block.Preds) != 1 || len(c.Block.Instrs) != 2) {
			return nil, false
		}
		chain[c.Block] = true
		is.cases = append(is.cases, intCase{value: v, body: c.Body})
	}
	if _, ok := l.switches[sw.Start]; ok || l.skip[sw.Start] {
		return nil, false
	}

	// A target entered twice from the chain would need two different moves
	// for the same phi on one switch edge.
	entries := make(map[*ssa.BasicBlock]int)
	for b := range chain {
		for _, s := range b.Succs {
			if !chain[s] {
				entries[s]++
			}
		}
	}
	for target, n := range entries {
		if n > 1 && hasPhi(target) {
			return nil, false
		}
	}
	return is, true
}

// isTest reports whether b ends with `t = x == c; if t` and t has no other use.
func isTest(b *ssa.BasicBlock) bool {
	n := len(b.Instrs)
	if n < 2 {
		return false
	}
	test, ok := b.Instrs[n-1].(*ssa.If)
	if !ok {
		return false
	}
	cmp, ok := test.Cond.(*ssa.BinOp)
	if !ok || cmp.Op != token.EQL || b.Instrs[n-2] != cmp {
		return false
	}
	return len(uses(cmp)) == 1
}

func hasPhi(b *ssa.BasicBlock) bool {
	if len(b.Instrs) == 0 {
		return false
	}
	_, ok := b.Instrs[0].(*ssa.Phi)
	return ok
}
