package lower

import (
	"golang.org/x/tools/go/ssa"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Phi Elimination
// =============================================================================
//
// An incoming value whose only use is the phi writes the phi's register
// directly when nothing between its definition and the edge still reads the
// old phi value:
//
//	    i = 0                     i = 0
//	    ↓                         ↓
//	┌─▶ t1 = φ(0, t2)         ┌─▶ if i < n
//	│   if t1 < n             │   i = i + 1
//	│   t2 = t1 + 1           └── ↑
//	└──
//
// Every other incoming value becomes a move at the end of the predecessor.

const maxChain = 64

// findCoalescing picks the incoming values that write their phi's register.
func (l *lowerer) findCoalescing() {
	for _, b := range l.fn.Blocks {
		for _, instr := range b.Instrs {
			p, ok := instr.(*ssa.Phi)
			if !ok {
				break
			}
			for i, e := range p.Edges {
				l.tryCoalesce(b, p, i, e)
			}
		}
	}
}

func (l *lowerer) tryCoalesce(b *ssa.BasicBlock, p *ssa.Phi, edge int, e ssa.Value) {
	def, ok := e.(ssa.Instruction)
	if !ok || l.absorbed[def] {
		return
	}
	if _, phi := e.(*ssa.Phi); phi {
		return
	}
	if _, done := l.coalesced[e]; done || l.wrapped[e] {
		return
	}
	refs := uses(e)
	if len(refs) != 1 || refs[0] != p {
		return
	}
	chain := chainTo(def.Block(), b.Preds[edge])
	if chain == nil || l.readsAfter(def, chain, p) {
		return
	}
	for _, instr := range b.Instrs {
		q, ok := instr.(*ssa.Phi)
		if !ok {
			break
		}
		if q != p && q.Edges[edge] == p {
			return
		}
	}
	l.coalesced[e] = p
}

// chainTo returns the blocks from d to pred when every step has a single
// successor leading to a block with a single predecessor, and pred itself
// only leads to the phi block.
func chainTo(d, pred *ssa.BasicBlock) []*ssa.BasicBlock {
	if len(pred.Succs) != 1 {
		return nil
	}
	chain := []*ssa.BasicBlock{d}
	for cur := d; cur != pred; {
		if len(cur.Succs) != 1 || len(cur.Succs[0].Preds) != 1 || len(chain) > maxChain {
			return nil
		}
		cur = cur.Succs[0]
		if cur == d {
			return nil
		}
		chain = append(chain, cur)
	}
	return chain
}

// readsAfter reports whether p is read after def along chain, directly or
// through a wrapped operand.
func (l *lowerer) readsAfter(def ssa.Instruction, chain []*ssa.BasicBlock, p *ssa.Phi) bool {
	for n, b := range chain {
		start := 0
		if n == 0 {
			start = indexOf(b, def) + 1
		}
		for _, instr := range b.Instrs[start:] {
			if _, phi := instr.(*ssa.Phi); phi {
				continue
			}
			if l.reads(instr, p) {
				return true
			}
		}
	}
	return false
}

func (l *lowerer) reads(instr ssa.Instruction, p *ssa.Phi) bool {
	for _, rand := range instr.Operands(nil) {
		if rand == nil || *rand == nil {
			continue
		}
		if *rand == p {
			return true
		}
		if l.wrapped[*rand] {
			if inner, ok := (*rand).(ssa.Instruction); ok && l.reads(inner, p) {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Moves
// =============================================================================

type move struct {
	dst ir.Reg
	src ir.Arg
}

// placeMoves inserts the remaining phi copies before the terminator of each
// predecessor, as one parallel copy per predecessor.
func (l *lowerer) placeMoves() {
	perBlock := make(map[*ir.Block][]move)
	var order []*ir.Block
	for _, b := range l.fn.Blocks {
		if l.skip[b] {
			continue
		}
		for _, instr := range b.Instrs {
			p, ok := instr.(*ssa.Phi)
			if !ok {
				break
			}
			for i, e := range p.Edges {
				if l.coalesced[e] == p {
					continue
				}
				pred := b.Preds[i]
				if start, ok := l.owner[pred]; ok {
					pred = start
				}
				from := l.last[pred]
				if _, seen := perBlock[from]; !seen {
					order = append(order, from)
				}
				perBlock[from] = append(perBlock[from], move{dst: l.reg(p), src: l.arg(e)})
			}
		}
	}
	for _, b := range order {
		insns := sequentialize(perBlock[b], l.temp)
		if len(insns) == 0 {
			continue
		}
		list := b.Snapshot()
		at := len(list)
		if at > 0 && list[at-1].Op.IsControl() {
			at--
		}
		out := make([]*ir.Instr, 0, len(list)+len(insns))
		out = append(out, list[:at]...)
		out = append(out, insns...)
		out = append(out, list[at:]...)
		b.SetInstrs(out)
	}
}

// sequentialize orders a parallel copy, breaking cycles with a temporary.
func sequentialize(moves []move, temp func() ir.Reg) []*ir.Instr {
	var pending []move
	for _, mv := range moves {
		if !mv.src.IsReg(mv.dst) {
			pending = append(pending, mv)
		}
	}
	var out []*ir.Instr
	for len(pending) > 0 {
		ready := -1
		for i, mv := range pending {
			if !readByOthers(pending, i, mv.dst) {
				ready = i
				break
			}
		}
		if ready < 0 {
			// every destination is still read: park one in a temporary
			saved := pending[0].dst
			tmp := temp()
			out = append(out, ir.NewMove(tmp, ir.RegArg(saved)))
			for j := range pending {
				if pending[j].src.IsReg(saved) {
					pending[j].src = ir.RegArg(tmp)
				}
			}
			continue
		}
		mv := pending[ready]
		out = append(out, ir.NewMove(mv.dst, mv.src))
		pending = append(pending[:ready], pending[ready+1:]...)
	}
	return out
}

func readByOthers(moves []move, self int, r ir.Reg) bool {
	for i, mv := range moves {
		if i != self && mv.src.IsReg(r) {
			return true
		}
	}
	return false
}
