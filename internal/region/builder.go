package region

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpyw/regionize/internal/cfg"
	"github.com/mpyw/regionize/internal/ir"
)

// ErrNoEntry is returned when a method has no entry block.
var ErrNoEntry = errors.New("method has no entry block")

// Options tunes the builder.
type Options struct {
	// Ternary enables collapsing of two-move diamonds into a ternary
	// assignment.
	Ternary bool
	// Logger receives debug traces; nil discards them.
	Logger *slog.Logger
}

// =============================================================================
// Builder
//
// The builder walks the CFG from the entry block, appending blocks to the
// current sequence until it meets a block that starts a structure:
//
//	block x
//	  │
//	  ├─ in irreducible set?   → flat fallback sequence
//	  ├─ starts a try scope?   → TryCatch   (outermost scope first)
//	  ├─ loop header?          → Loop
//	  ├─ ends with switch?     → Switch
//	  ├─ ends with if?         → If
//	  ├─ lone monitor-enter?   → Synchronized
//	  └─ otherwise             → append, continue at the single successor
//
// Each extractor returns the block where the enclosing sequence continues.
// Once the tree is complete, edges the tree does not express on its own get
// explicit break, continue or goto instructions (jumps.go).
// A scope restricts which blocks a sub-traversal may take: it stops at the
// stop set, stays inside the allowed set, and only takes blocks dominated by
// its entry.
// =============================================================================

// Build constructs the region tree of m. It fails only on a missing entry,
// inconsistent edges, or context cancellation; structuring trouble is
// recorded as method warnings and degrades to flat sequences.
func Build(ctx context.Context, m *ir.Method, info *cfg.Info, opts Options) (*Tree, error) {
	if m == nil || m.Entry() == nil {
		return nil, ErrNoEntry
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	b := &builder{
		ctx:        ctx,
		method:     m,
		info:       info,
		tree:       NewTree(),
		log:        opts.Logger,
		placed:     make(map[*ir.Block]ID),
		inProgress: make(map[*ir.Block]bool),
		flattened:  make(map[*cfg.IrreducibleSet]bool),
	}
	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}
	b.tries = b.findTryScopes()

	root := b.tree.NewSequence(NoRegion)
	b.tree.SetRoot(root)
	b.makeRegion(root, m.Entry(), scope{entry: m.Entry()})
	if b.err != nil {
		return nil, b.err
	}
	b.sweep(root)
	if opts.Ternary {
		collapseTernaries(b.tree)
	}
	insertJumps(m, b.tree)
	return b.tree, nil
}

type builder struct {
	ctx    context.Context
	method *ir.Method
	info   *cfg.Info
	tree   *Tree
	log    *slog.Logger
	err    error

	placed     map[*ir.Block]ID
	inProgress map[*ir.Block]bool
	flattened  map[*cfg.IrreducibleSet]bool
	tries      *tryScopes
}

// scope bounds a sub-traversal.
type scope struct {
	entry   *ir.Block
	stops   map[*ir.Block]bool
	allowed map[*ir.Block]bool // nil means unrestricted
}

// with returns a copy of s with extra stop blocks.
func (s scope) with(stops ...*ir.Block) scope {
	out := scope{entry: s.entry, allowed: s.allowed, stops: make(map[*ir.Block]bool, len(s.stops)+len(stops))}
	for b := range s.stops {
		out.stops[b] = true
	}
	for _, b := range stops {
		if b != nil {
			out.stops[b] = true
		}
	}
	return out
}

// at returns a copy of s rooted at entry.
func (s scope) at(entry *ir.Block) scope {
	s.entry = entry
	return s
}

// alive polls the context; a cancelled build stops at the next step.
func (b *builder) alive() bool {
	if b.err != nil {
		return false
	}
	if err := b.ctx.Err(); err != nil {
		b.err = fmt.Errorf("structuring %s: %w", b.method.Name, err)
		return false
	}
	return true
}

// canPlace reports whether x may be taken by a traversal under sc.
func (b *builder) canPlace(x *ir.Block, sc scope) bool {
	if x == nil || !b.info.Reachable(x) || x.Has(ir.FlagRemove) {
		return false
	}
	if _, done := b.placed[x]; done {
		return false
	}
	if sc.stops[x] {
		return false
	}
	if sc.allowed != nil && !sc.allowed[x] {
		return false
	}
	return sc.entry == nil || b.info.Dominates(sc.entry, x)
}

// place appends x to seq.
func (b *builder) place(seq ID, x *ir.Block) {
	b.tree.Append(seq, BlockContainer(x))
	b.placed[x] = seq
}

// claim records x as held by a structural slot of region id.
func (b *builder) claim(id ID, x *ir.Block) {
	b.placed[x] = id
}

// makeRegion fills seq starting at start until the scope ends.
func (b *builder) makeRegion(seq ID, start *ir.Block, sc scope) {
	for x := start; b.canPlace(x, sc) && b.alive(); {
		x = b.traverse(seq, x, sc)
	}
}

// subRegion builds a fresh sequence under parent, returning its container or
// an empty container when nothing could be placed.
func (b *builder) subRegion(parent ID, start *ir.Block, sc scope) Container {
	if !b.canPlace(start, sc) {
		return Container{}
	}
	seq := b.tree.NewSequence(parent)
	b.makeRegion(seq, start, sc)
	if len(b.tree.Get(seq).Children) == 0 {
		return Container{}
	}
	return RegionContainer(seq)
}

// traverse handles one block and returns the next block of the sequence.
func (b *builder) traverse(seq ID, x *ir.Block, sc scope) *ir.Block {
	if set := b.info.Irreducible(x); set != nil && !b.flattened[set] {
		return b.flatten(seq, set)
	}
	if next, ok := b.makeTryCatch(seq, x, sc); ok {
		return next
	}
	if l := b.info.LoopAt(x); l != nil && !b.inProgress[x] {
		return b.makeLoop(seq, l, sc)
	}

	last := x.Last()
	switch {
	case last == nil:
	case last.Op == ir.OpSwitch:
		return b.makeSwitch(seq, x, sc)
	case last.Op == ir.OpIf && len(x.NormalSuccs()) == 2:
		return b.makeIf(seq, x, sc)
	case last.Op == ir.OpMonitorEnter && x.Len() == 1:
		if next, ok := b.makeSync(seq, x, sc); ok {
			return next
		}
	}

	b.place(seq, x)
	if succs := x.NormalSuccs(); len(succs) == 1 {
		return succs[0]
	}
	return nil
}

// =============================================================================
// Merge Selection
// =============================================================================

// votes counts candidate continuation blocks.
type votes struct {
	info  *cfg.Info
	count map[*ir.Block]int
}

func newVotes(info *cfg.Info) *votes {
	return &votes{info: info, count: make(map[*ir.Block]int)}
}

// add counts x, mapped to its irreducible set representative.
func (v *votes) add(x *ir.Block) {
	if set := v.info.Irreducible(x); set != nil {
		x = set.Entry()
	}
	v.count[x]++
}

// pick returns the candidate with most votes, ties going to the latest block
// in reverse postorder.
func (v *votes) pick() *ir.Block {
	var best *ir.Block
	for x, n := range v.count {
		if best == nil || n > v.count[best] || (n == v.count[best] && v.info.Order(x) > v.info.Order(best)) {
			best = x
		}
	}
	return best
}

// exitsOf returns arm's dominance frontier minus blocks arm dominates and
// minus the scope's stop blocks.
func (b *builder) exitsOf(arm *ir.Block, sc scope) []*ir.Block {
	var out []*ir.Block
	for _, d := range b.info.Frontier(arm) {
		if b.info.Dominates(arm, d) || sc.stops[d] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// owns reports whether target is exclusively entered from the branch at x.
func (b *builder) owns(x, target *ir.Block) bool {
	if b.info.Irreducible(target) != nil || b.info.Idom(target) != x {
		return false
	}
	for _, p := range b.info.Preds(target) {
		if p != x && !b.info.Dominates(target, p) {
			return false
		}
	}
	return true
}

// =============================================================================
// Fallbacks
// =============================================================================

// flatten places an irreducible set as a flat sequence and continues at its
// preferred exit.
func (b *builder) flatten(seq ID, set *cfg.IrreducibleSet) *ir.Block {
	b.flattened[set] = true
	flat := b.tree.NewSequence(seq)
	b.tree.Get(flat).Flat = true
	n := 0
	for _, x := range set.Blocks {
		if _, done := b.placed[x]; done || x.Has(ir.FlagRemove) {
			continue
		}
		b.place(flat, x)
		n++
	}
	b.tree.Append(seq, RegionContainer(flat))
	b.method.Warn(set.Entry(), "irreducible control flow: %d blocks rendered with explicit jumps", n)
	b.log.Debug("flattened irreducible set", "method", b.method.Name, "entry", set.Entry().String(), "blocks", n)

	exits := newVotes(b.info)
	for _, x := range set.Blocks {
		for _, s := range x.NormalSuccs() {
			if !set.Contains(s) {
				exits.add(s)
			}
		}
	}
	return exits.pick()
}

// sweep appends every reachable block no traversal took, so nothing is lost.
func (b *builder) sweep(root ID) {
	var missing []*ir.Block
	for _, x := range b.info.RPO() {
		if _, done := b.placed[x]; done {
			continue
		}
		if x.Has(ir.FlagRemove | ir.FlagAddedToRegion) {
			continue
		}
		missing = append(missing, x)
	}
	if len(missing) == 0 {
		return
	}
	flat := b.tree.NewSequence(root)
	b.tree.Get(flat).Flat = true
	for _, x := range missing {
		b.place(flat, x)
	}
	b.tree.Append(root, RegionContainer(flat))
	b.method.Warn(missing[0], "unstructured code: %d blocks rendered with explicit jumps", len(missing))
}
