package cfg

import (
	"sort"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Natural Loops
//
// A back-edge is an edge whose target dominates its source. Every back-edge
// defines a natural loop: the header plus every block that reaches the latch
// without passing through the header. Loops sharing a header are merged.
//
//	        ┌─────┐
//	        │  H  │ ◀──────┐  header (dominates L)
//	        └──┬──┘        │
//	           ↓           │
//	        ┌─────┐        │
//	        │  L  │ ───────┘  latch (back-edge source)
//	        └─────┘
// =============================================================================

// ExitEdge is an edge leaving a loop.
type ExitEdge struct {
	From *ir.Block
	To   *ir.Block
}

// Loop is a natural loop.
type Loop struct {
	Header  *ir.Block
	Latches []*ir.Block
	Exits   []ExitEdge
	Parent  *Loop

	blocks map[*ir.Block]bool
	list   []*ir.Block
}

// Contains reports whether b belongs to the loop body (header included).
func (l *Loop) Contains(b *ir.Block) bool { return l.blocks[b] }

// Blocks returns the loop blocks in reverse postorder.
func (l *Loop) Blocks() []*ir.Block { return l.list }

// Size returns the number of blocks in the loop.
func (l *Loop) Size() int { return len(l.list) }

// ExitTargets returns the distinct exit targets in reverse postorder.
func (l *Loop) ExitTargets() []*ir.Block {
	var out []*ir.Block
	seen := make(map[*ir.Block]bool)
	for _, e := range l.Exits {
		if !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	return out
}

func (info *Info) findLoops() {
	for _, u := range info.rpo {
		for _, e := range u.Succs() {
			h := e.To
			if !info.Dominates(h, u) {
				continue
			}
			l := info.loops[h]
			if l == nil {
				l = &Loop{Header: h, blocks: map[*ir.Block]bool{h: true}}
				info.loops[h] = l
				info.loopList = append(info.loopList, l)
			}
			if !containsBlock(l.Latches, u) {
				l.Latches = append(l.Latches, u)
			}
			info.collectLoopBody(l, u)
		}
	}

	for _, l := range info.loopList {
		for b := range l.blocks {
			l.list = append(l.list, b)
		}
		info.SortByOrder(l.list)
		for _, b := range l.list {
			for _, e := range b.Succs() {
				if !l.blocks[e.To] {
					l.Exits = append(l.Exits, ExitEdge{From: b, To: e.To})
				}
			}
		}
	}

	// Inner loops first: smaller bodies are nested inside larger ones.
	sort.SliceStable(info.loopList, func(i, j int) bool {
		return len(info.loopList[i].list) < len(info.loopList[j].list)
	})
	for i, l := range info.loopList {
		for _, outer := range info.loopList[i+1:] {
			if outer.blocks[l.Header] {
				l.Parent = outer
				break
			}
		}
		for _, b := range l.list {
			if info.innermost[b] == nil {
				info.innermost[b] = l
			}
		}
	}
}

// collectLoopBody adds every block reaching latch without passing the header.
func (info *Info) collectLoopBody(l *Loop, latch *ir.Block) {
	stack := []*ir.Block{latch}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if l.blocks[b] {
			continue
		}
		l.blocks[b] = true
		for _, p := range info.Preds(b) {
			if !l.blocks[p] {
				stack = append(stack, p)
			}
		}
	}
}

// LoopAt returns the loop headed by b, or nil.
func (info *Info) LoopAt(b *ir.Block) *Loop { return info.loops[b] }

// InnermostLoop returns the innermost loop containing b, or nil.
func (info *Info) InnermostLoop(b *ir.Block) *Loop { return info.innermost[b] }

// Loops returns all loops, inner loops first.
func (info *Info) Loops() []*Loop { return info.loopList }

// IsInLoop returns true if the given block is inside a loop.
func (info *Info) IsInLoop(b *ir.Block) bool { return info.innermost[b] != nil }

func containsBlock(list []*ir.Block, b *ir.Block) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// =============================================================================
// Irreducible Sub-graphs
//
// A retreating DFS edge u→v whose target does not dominate its source closes a
// cycle with more than one entry:
//
//	        ┌─────┐
//	        │  D  │  common dominator
//	        └┬───┬┘
//	         ↓   ↓
//	     ┌─────┐ ┌─────┐
//	     │  V  │⇄│  U  │  neither dominates the other
//	     └─────┘ └─────┘
//
// The offending set is every block on a cycle through the edge that avoids the
// common dominator D. Overlapping sets are merged.
// =============================================================================

// IrreducibleSet is a multi-entry cyclic sub-graph.
type IrreducibleSet struct {
	// Blocks in reverse postorder; Blocks[0] is the representative entry.
	Blocks []*ir.Block
	// Dominator is the nearest block dominating every member.
	Dominator *ir.Block

	members map[*ir.Block]bool
}

// Contains reports membership.
func (s *IrreducibleSet) Contains(b *ir.Block) bool { return s.members[b] }

// Entry returns the representative entry block.
func (s *IrreducibleSet) Entry() *ir.Block { return s.Blocks[0] }

// Entries returns members with a predecessor outside the set.
func (s *IrreducibleSet) Entries() []*ir.Block {
	var out []*ir.Block
	for _, b := range s.Blocks {
		for _, p := range b.Preds() {
			if !s.members[p] {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// Irreducible returns the irreducible set containing b, or nil.
func (info *Info) Irreducible(b *ir.Block) *IrreducibleSet { return info.irreducible[b] }

// IrreducibleSets returns all irreducible sets in reverse postorder of entry.
func (info *Info) IrreducibleSets() []*IrreducibleSet { return info.irrSets }

func (info *Info) findIrreducible() {
	if len(info.rpo) == 0 {
		return
	}
	type frame struct {
		b    *ir.Block
		next int
	}
	onStack := map[*ir.Block]bool{info.rpo[0]: true}
	visited := map[*ir.Block]bool{info.rpo[0]: true}
	stack := []frame{{b: info.rpo[0]}}
	var retreating []ExitEdge
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.b.Succs()
		if top.next < len(succs) {
			v := succs[top.next].To
			top.next++
			if onStack[v] && !info.Dominates(v, top.b) {
				retreating = append(retreating, ExitEdge{From: top.b, To: v})
			}
			if !visited[v] {
				visited[v] = true
				onStack[v] = true
				stack = append(stack, frame{b: v})
			}
			continue
		}
		onStack[top.b] = false
		stack = stack[:len(stack)-1]
	}

	var sets []map[*ir.Block]bool
	var doms []*ir.Block
	for _, e := range retreating {
		d := info.CommonDominator(e.From, e.To)
		fwd := info.walkAvoiding(e.To, d, func(b *ir.Block) []*ir.Block { return succBlocks(b) })
		bwd := info.walkAvoiding(e.From, d, info.Preds)
		set := make(map[*ir.Block]bool)
		for b := range fwd {
			if bwd[b] {
				set[b] = true
			}
		}
		sets = append(sets, set)
		doms = append(doms, d)
	}

	// Merge overlapping sets until stable.
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(sets) && !merged; i++ {
			for j := i + 1; j < len(sets); j++ {
				if !overlaps(sets[i], sets[j]) {
					continue
				}
				for b := range sets[j] {
					sets[i][b] = true
				}
				doms[i] = info.CommonDominator(doms[i], doms[j])
				sets = append(sets[:j], sets[j+1:]...)
				doms = append(doms[:j], doms[j+1:]...)
				merged = true
				break
			}
		}
	}

	for i, set := range sets {
		s := &IrreducibleSet{Dominator: doms[i], members: set}
		for b := range set {
			s.Blocks = append(s.Blocks, b)
			info.irreducible[b] = s
		}
		info.SortByOrder(s.Blocks)
		info.irrSets = append(info.irrSets, s)
	}
	sort.Slice(info.irrSets, func(i, j int) bool {
		return info.Order(info.irrSets[i].Blocks[0]) < info.Order(info.irrSets[j].Blocks[0])
	})
}

// walkAvoiding collects blocks reachable from start through next without
// entering avoid.
func (info *Info) walkAvoiding(start, avoid *ir.Block, next func(*ir.Block) []*ir.Block) map[*ir.Block]bool {
	seen := map[*ir.Block]bool{start: true}
	stack := []*ir.Block{start}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(b) {
			if n == avoid || seen[n] || !info.Reachable(n) {
				continue
			}
			seen[n] = true
			stack = append(stack, n)
		}
	}
	return seen
}

func succBlocks(b *ir.Block) []*ir.Block {
	out := make([]*ir.Block, 0, len(b.Succs()))
	for _, e := range b.Succs() {
		out = append(out, e.To)
	}
	return out
}

func overlaps(a, b map[*ir.Block]bool) bool {
	for x := range a {
		if b[x] {
			return true
		}
	}
	return false
}
