// Package cfg provides dominance and loop analysis over the block graph.
//
// The analysis never mutates the graph. Its output is advisory input for the
// region builder:
//
//	┌──────────┐   ┌──────────────┐   ┌───────────┐   ┌───────────────┐
//	│   RPO    │ → │ idom (fixed  │ → │ dominance │ → │ natural loops │
//	│ (DFS)    │   │ point, CHK)  │   │ frontier  │   │ + irreducible │
//	└──────────┘   └──────────────┘   └───────────┘   └───────────────┘
//
// All edges take part, handler edges included, so exception handlers are
// reachable and dominated by the code they protect.
package cfg

import (
	"sort"

	"github.com/mpyw/regionize/internal/ir"
)

// Analyzer computes control flow facts for methods.
// It is stateless and can be reused across multiple analyses.
type Analyzer struct{}

// New creates a new Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Info holds the analysis results for one method.
type Info struct {
	method *ir.Method

	rpo   []*ir.Block
	order map[*ir.Block]int

	idom     map[*ir.Block]*ir.Block
	children map[*ir.Block][]*ir.Block
	pre      map[*ir.Block]int
	post     map[*ir.Block]int
	frontier map[*ir.Block][]*ir.Block

	loops     map[*ir.Block]*Loop
	loopList  []*Loop
	innermost map[*ir.Block]*Loop

	irreducible map[*ir.Block]*IrreducibleSet
	irrSets     []*IrreducibleSet
}

// Analyze runs the full analysis. A method without code yields empty info.
func (a *Analyzer) Analyze(m *ir.Method) *Info {
	info := &Info{
		method:      m,
		order:       make(map[*ir.Block]int),
		idom:        make(map[*ir.Block]*ir.Block),
		children:    make(map[*ir.Block][]*ir.Block),
		pre:         make(map[*ir.Block]int),
		post:        make(map[*ir.Block]int),
		frontier:    make(map[*ir.Block][]*ir.Block),
		loops:       make(map[*ir.Block]*Loop),
		innermost:   make(map[*ir.Block]*Loop),
		irreducible: make(map[*ir.Block]*IrreducibleSet),
	}
	if m == nil || m.Entry() == nil {
		return info
	}
	info.computeRPO(m.Entry())
	info.computeDominators()
	info.numberDomTree()
	info.computeFrontiers()
	info.findLoops()
	info.findIrreducible()
	return info
}

// =============================================================================
// Ordering
// =============================================================================

// computeRPO numbers reachable blocks in reverse postorder with an explicit
// stack; deep graphs must not overflow the goroutine stack.
func (info *Info) computeRPO(entry *ir.Block) {
	type frame struct {
		b    *ir.Block
		next int
	}
	visited := map[*ir.Block]bool{entry: true}
	stack := []frame{{b: entry}}
	var post []*ir.Block
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.b.Succs()
		if top.next < len(succs) {
			s := succs[top.next].To
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	info.rpo = make([]*ir.Block, len(post))
	for i, b := range post {
		n := len(post) - 1 - i
		info.rpo[n] = b
		info.order[b] = n
	}
}

// RPO returns reachable blocks in reverse postorder.
func (info *Info) RPO() []*ir.Block { return info.rpo }

// Reachable reports whether b is reachable from the entry.
func (info *Info) Reachable(b *ir.Block) bool {
	_, ok := info.order[b]
	return ok
}

// Order returns b's reverse postorder index, -1 when unreachable.
func (info *Info) Order(b *ir.Block) int {
	if n, ok := info.order[b]; ok {
		return n
	}
	return -1
}

// Preds returns b's reachable predecessors.
func (info *Info) Preds(b *ir.Block) []*ir.Block {
	var out []*ir.Block
	for _, p := range b.Preds() {
		if info.Reachable(p) {
			out = append(out, p)
		}
	}
	return out
}

// SortByOrder sorts blocks by reverse postorder in place.
func (info *Info) SortByOrder(blocks []*ir.Block) {
	sort.Slice(blocks, func(i, j int) bool { return info.Order(blocks[i]) < info.Order(blocks[j]) })
}

// =============================================================================
// Reachability
// =============================================================================

// CanReach checks if src can reach dst by following successor edges (BFS).
//
// Example CFG:
//
//	     ┌─────┐
//	     │  0  │ entry
//	     └──┬──┘
//	        ↓
//	     ┌─────┐
//	┌───→│  1  │←───┐ loop head
//	│    └──┬──┘    │
//	│       ↓       │
//	│    ┌─────┐    │
//	│    │  2  │────┘ back-edge
//	│    └──┬──┘
//	│       ↓
//	│    ┌─────┐
//	└────│  3  │ exit (returns to 1 or exits)
//	     └─────┘
//
//	CanReach(0, 2) = true  (0 → 1 → 2)
//	CanReach(2, 1) = true  (2 → 1 via back-edge)
//	CanReach(3, 0) = false (no path from exit to entry)
func (info *Info) CanReach(src, dst *ir.Block) bool {
	if src == nil || dst == nil {
		return false
	}
	if src == dst {
		return true
	}
	return info.ReachableFrom(src)[dst]
}

// ReachableFrom returns every block reachable from src, src included.
func (info *Info) ReachableFrom(src *ir.Block) map[*ir.Block]bool {
	seen := map[*ir.Block]bool{src: true}
	queue := []*ir.Block{src}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, e := range b.Succs() {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// ReachableAvoiding returns every block reachable from src without entering
// avoid. src itself is always included.
func (info *Info) ReachableAvoiding(src, avoid *ir.Block) map[*ir.Block]bool {
	return info.walkAvoiding(src, avoid, succBlocks)
}
