package region

import (
	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Synchronized Extraction
//
//	┌──────────────────┐
//	│ monitor-enter(L) │  enter block: nothing else in it
//	└────────┬─────────┘
//	         ↓
//	       body ...         every path ends in a block holding
//	         ↓              monitor-exit(L) before leaving
//	┌──────────────────┐
//	│ monitor-exit(L)  │
//	└────────┬─────────┘
//	         ↓
//	     continuation
//
// A path leaving the body without releasing the lock keeps the block plain;
// the enter and exit instructions are then rendered as calls.
// =============================================================================

func (b *builder) makeSync(seq ID, x *ir.Block, sc scope) (*ir.Block, bool) {
	enter := x.Last()
	lock := enter.Arg(0)
	succs := x.NormalSuccs()
	if len(succs) != 1 {
		return nil, false
	}
	start := succs[0]

	inside := func(y *ir.Block) bool {
		return y != x && b.canPlace(y, sc) && b.info.Dominates(x, y)
	}
	body := make(map[*ir.Block]bool)
	outs := newVotes(b.info)
	exits := 0
	leaks := false
	queue := []*ir.Block{start}
	if !inside(start) {
		leaks = true
		queue = nil
	}
	body[start] = true
	for len(queue) > 0 {
		y := queue[0]
		queue = queue[1:]
		releases := releasesLock(y, lock)
		if releases {
			exits++
		}
		next := y.NormalSuccs()
		if len(next) == 0 && !releases {
			leaks = true
		}
		for _, s := range next {
			if releases {
				outs.add(s)
				continue
			}
			if body[s] {
				continue
			}
			if !inside(s) {
				leaks = true
				continue
			}
			body[s] = true
			queue = append(queue, s)
		}
	}
	if leaks || exits == 0 {
		b.method.Warn(x, "monitor %s is not released on every path; synchronized block not extracted", lock)
		return nil, false
	}

	next := outs.pick()
	id := b.tree.NewSync(seq, enter)
	b.tree.Append(seq, RegionContainer(id))
	inner := b.tree.Get(id).Sync.Body
	b.place(inner, x)
	b.makeRegion(inner, start, scope{entry: start, stops: sc.with(next).stops, allowed: body})
	b.log.Debug("synchronized", "enter", x.String(), "exits", exits, "next", blockName(next))
	return next, true
}

// releasesLock reports whether y holds a monitor-exit on lock.
func releasesLock(y *ir.Block, lock ir.Arg) bool {
	for _, insn := range y.Instrs() {
		if insn.Op == ir.OpMonitorExit && insn.Arg(0).SameAs(lock) {
			return true
		}
	}
	return false
}
