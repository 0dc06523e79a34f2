package region

import (
	"github.com/mpyw/regionize/internal/ir"
)

// collapseTernaries rewrites
//
//	if (c) { r = a } else { r = b }     into     r = c ? a : b
//
// when each arm is a single block holding one move to the same register.
// The arm blocks are flagged ADDED_TO_REGION and the If region is replaced
// by its condition block.
func collapseTernaries(t *Tree) {
	var ifs []ID
	t.Walk(Visitor{Enter: func(id ID, r *Region) bool {
		if r.Kind == KindIf {
			ifs = append(ifs, id)
		}
		return true
	}})
	for _, id := range ifs {
		collapseTernary(t, id)
	}
}

func collapseTernary(t *Tree, id ID) bool {
	r := t.Get(id)
	parent := t.Parent(id)
	if parent == NoRegion || t.Get(parent).Kind != KindSequence {
		return false
	}
	d := r.If
	cond := d.Cond.Last()
	if cond == nil || cond.Op != ir.OpIf {
		return false
	}
	thenBlock, thenMove := soleMove(t, d.Then)
	elseBlock, elseMove := soleMove(t, d.Else)
	if thenMove == nil || elseMove == nil || !sameResult(thenMove, elseMove) {
		return false
	}
	if ts, es := thenBlock.NormalSuccs(), elseBlock.NormalSuccs(); len(ts) != 1 || len(es) != 1 || ts[0] != es[0] {
		return false
	}
	a, b := thenMove.Arg(0), elseMove.Arg(0)
	if d.Inverted {
		a, b = b, a
	}
	tern := ir.NewTernary(*thenMove.Result, cond.Arg(0), a, b)
	if err := d.Cond.Replace(cond, tern); err != nil {
		return false
	}
	thenBlock.Add(ir.FlagAddedToRegion)
	elseBlock.Add(ir.FlagAddedToRegion)
	return t.ReplaceChild(parent, RegionContainer(id), BlockContainer(d.Cond))
}

// soleMove returns the only block of an arm if it holds exactly one move of
// a plain operand.
func soleMove(t *Tree, c Container) (*ir.Block, *ir.Instr) {
	if !c.IsRegion() {
		return nil, nil
	}
	seq := t.Get(c.Region)
	if seq.Kind != KindSequence || len(seq.Children) != 1 || !seq.Children[0].IsBlock() {
		return nil, nil
	}
	blk := seq.Children[0].Block
	if blk.Len() != 1 {
		return nil, nil
	}
	insn := blk.Last()
	if insn.Op != ir.OpMove && insn.Op != ir.OpConst {
		return nil, nil
	}
	if insn.Result == nil || insn.Arg(0).Kind == ir.ArgWrap || insn.Arg(0).Kind == ir.ArgNone {
		return nil, nil
	}
	return blk, insn
}

func sameResult(x, y *ir.Instr) bool {
	return x.Result != nil && y.Result != nil && x.Result.Num == y.Result.Num
}
