package cfg

import (
	"github.com/mpyw/regionize/internal/ir"
)

// Dominator tree construction ----------------------------------------
//
// Immediate dominators come from the iterative data-flow formulation of
// Cooper, Harvey and Kennedy ("A Simple, Fast Dominance Algorithm"): blocks
// are visited in reverse postorder until no idom changes, and two candidate
// dominators are merged by walking both up the current tree ("intersect").
// The fixed point is reached for any graph, reducible or not.

func (info *Info) computeDominators() {
	if len(info.rpo) == 0 {
		return
	}
	entry := info.rpo[0]
	info.idom[entry] = entry

	for changed := true; changed; {
		changed = false
		for _, b := range info.rpo[1:] {
			var newIdom *ir.Block
			for _, p := range b.Preds() {
				if _, done := info.idom[p]; !done {
					continue
				}
				if newIdom == nil {
					newIdom = p
				} else {
					newIdom = info.intersect(p, newIdom)
				}
			}
			if newIdom != nil && info.idom[b] != newIdom {
				info.idom[b] = newIdom
				changed = true
			}
		}
	}

	for _, b := range info.rpo[1:] {
		if d := info.idom[b]; d != nil {
			info.children[d] = append(info.children[d], b)
		}
	}
}

// intersect finds the nearest common ancestor of two blocks in the current
// dominator tree using reverse postorder numbers.
func (info *Info) intersect(b1, b2 *ir.Block) *ir.Block {
	for b1 != b2 {
		for info.order[b1] > info.order[b2] {
			b1 = info.idom[b1]
		}
		for info.order[b2] > info.order[b1] {
			b2 = info.idom[b2]
		}
	}
	return b1
}

// numberDomTree assigns pre- and post-order numbers within the dominator
// tree, so Dominates is a constant-time interval check.
func (info *Info) numberDomTree() {
	if len(info.rpo) == 0 {
		return
	}
	type frame struct {
		b    *ir.Block
		next int
	}
	pre, post := 0, 0
	stack := []frame{{b: info.rpo[0]}}
	info.pre[info.rpo[0]] = pre
	pre++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		kids := info.children[top.b]
		if top.next < len(kids) {
			c := kids[top.next]
			top.next++
			info.pre[c] = pre
			pre++
			stack = append(stack, frame{b: c})
			continue
		}
		info.post[top.b] = post
		post++
		stack = stack[:len(stack)-1]
	}
}

// Idom returns the block that immediately dominates b: its parent in the
// dominator tree. The entry and unreachable blocks have none.
func (info *Info) Idom(b *ir.Block) *ir.Block {
	d := info.idom[b]
	if d == b {
		return nil
	}
	return d
}

// Dominees returns the blocks b immediately dominates.
func (info *Info) Dominees(b *ir.Block) []*ir.Block { return info.children[b] }

// Dominates reports whether a dominates b. Every block dominates itself.
func (info *Info) Dominates(a, b *ir.Block) bool {
	if !info.Reachable(a) || !info.Reachable(b) {
		return false
	}
	return info.pre[a] <= info.pre[b] && info.post[b] <= info.post[a]
}

// CommonDominator returns the nearest block dominating both a and b.
func (info *Info) CommonDominator(a, b *ir.Block) *ir.Block {
	if !info.Reachable(a) || !info.Reachable(b) {
		return nil
	}
	return info.intersect(a, b)
}

// Frontier returns b's dominance frontier in reverse postorder.
func (info *Info) Frontier(b *ir.Block) []*ir.Block { return info.frontier[b] }

// InFrontier reports whether f is in b's dominance frontier.
func (info *Info) InFrontier(b, f *ir.Block) bool {
	for _, x := range info.frontier[b] {
		if x == f {
			return true
		}
	}
	return false
}

// computeFrontiers walks up from each join point's predecessors to its idom,
// adding the join to every frontier on the way.
func (info *Info) computeFrontiers() {
	seen := make(map[[2]*ir.Block]bool)
	for _, b := range info.rpo {
		for _, p := range info.Preds(b) {
			for runner := p; runner != nil && runner != info.idom[b]; {
				key := [2]*ir.Block{runner, b}
				if !seen[key] {
					seen[key] = true
					info.frontier[runner] = append(info.frontier[runner], b)
				}
				next := info.idom[runner]
				if next == runner {
					break
				}
				runner = next
			}
		}
	}
	for b := range info.frontier {
		info.SortByOrder(info.frontier[b])
	}
}
