package region

import (
	"slices"
	"strconv"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Jump Insertion
//
// A code generator walks the tree once: a sequence runs its children in
// order, an arm or case body ends at the block after its region, and a loop
// body ends at the loop's continue point. Every CFG edge that this walk
// would not follow gets an explicit jump:
//
//	while (c) {                      while (c) {
//	    if (d) → follow                  if (!d) { work() } else { break }
//	    work()                       }
//	}
//
// Single-successor blocks receive the jump as their last instruction. Edges
// leaving a branch or a loop condition are split, and the new synthetic
// block takes the empty arm. An edge that is neither a break nor a continue
// becomes a goto; outside flat sequences it is also reported.
// =============================================================================

// frame is a region a break or continue can refer to.
type frame struct {
	id   ID
	loop bool
	brk  *ir.Block // where a break lands
	cont *ir.Block // where a continue lands; loops only
	incr *ir.Block // for-loop latch, also a continue target
}

type jumper struct {
	method *ir.Method
	tree   *Tree
	stack  []frame
	flat   map[*ir.Block]bool
}

func insertJumps(m *ir.Method, t *Tree) {
	j := &jumper{method: m, tree: t, flat: make(map[*ir.Block]bool)}
	depth := 0
	t.Walk(Visitor{
		Enter: func(_ ID, r *Region) bool {
			if r.Flat {
				depth++
			}
			return true
		},
		Leave: func(_ ID, r *Region) {
			if r.Flat {
				depth--
			}
		},
		Block: func(b *ir.Block) {
			if depth > 0 {
				j.flat[b] = true
			}
		},
	})
	j.region(t.Root(), nil)
}

// entry returns the block where control enters c; follow when c is empty.
func (j *jumper) entry(c Container, follow *ir.Block) *ir.Block {
	switch {
	case c.IsBlock():
		return c.Block
	case !c.IsRegion():
		return follow
	}
	r := j.tree.Get(c.Region)
	switch r.Kind {
	case KindSequence:
		for _, child := range r.Children {
			if e := j.entry(child, nil); e != nil {
				return e
			}
		}
		return follow
	case KindIf:
		return r.If.Cond
	case KindSwitch:
		return r.Switch.Cond
	case KindLoop:
		if r.Loop.Type == LoopWhile || r.Loop.Type == LoopFor {
			return r.Loop.Header
		}
		return j.entry(r.Loop.Body, r.Loop.Header)
	case KindTryCatch:
		return j.entry(r.Try.Try, follow)
	case KindSynchronized:
		return j.entry(RegionContainer(r.Sync.Body), follow)
	}
	return follow
}

// region inserts the jumps of id, where follow is the block control reaches
// after it (nil at the end of the method).
func (j *jumper) region(id ID, follow *ir.Block) {
	r := j.tree.Get(id)
	switch r.Kind {
	case KindSequence:
		j.sequence(r, follow)
	case KindIf:
		j.branch(r.If, follow)
	case KindLoop:
		j.loop(id, r.Loop, follow)
	case KindSwitch:
		j.cases(id, r.Switch, follow)
	case KindTryCatch:
		j.container(r.Try.Try, follow)
		for _, c := range r.Try.Catches {
			j.container(c.Handler, follow)
		}
		j.container(r.Try.Finally, follow)
	case KindSynchronized:
		j.region(r.Sync.Body, follow)
	}
}

func (j *jumper) container(c Container, follow *ir.Block) {
	switch {
	case c.IsBlock():
		j.block(c.Block, follow)
	case c.IsRegion():
		j.region(c.Region, follow)
	}
}

func (j *jumper) sequence(r *Region, follow *ir.Block) {
	if r.Flat {
		return
	}
	n := len(r.Children)
	follows := make([]*ir.Block, n)
	next := follow
	for i := n - 1; i >= 0; i-- {
		follows[i] = next
		next = j.entry(r.Children[i], next)
	}
	var children []Container
	for i, c := range r.Children {
		j.container(c, follows[i])
		children = append(children, c)
		if !c.IsRegion() {
			continue
		}
		if jump := j.loopExit(c.Region, follows[i]); jump != nil {
			children = append(children, BlockContainer(jump))
		}
	}
	r.Children = children
}

// block ends a single-successor block with a jump when its successor is not
// where the walk continues.
func (j *jumper) block(b *ir.Block, follow *ir.Block) {
	succs := b.NormalSuccs()
	if len(succs) != 1 || succs[0] == follow {
		return
	}
	if last := b.Last(); last != nil && last.Op.IsControl() {
		return
	}
	b.Append(j.jump(b, succs[0]))
}

func (j *jumper) branch(d *IfData, follow *ir.Block) {
	x := d.Cond
	thenTo, elseTo := x.Succ(ir.EdgeTrue), x.Succ(ir.EdgeFalse)
	if thenTo == nil || elseTo == nil {
		return
	}
	if d.Inverted {
		thenTo, elseTo = elseTo, thenTo
	}
	j.container(d.Then, follow)
	j.container(d.Else, follow)
	if d.Then.IsEmpty() && thenTo != follow {
		d.Then = j.split(x, thenTo)
	}
	if d.Else.IsEmpty() && elseTo != follow {
		d.Else = j.split(x, elseTo)
		if d.Then.IsEmpty() {
			d.Then, d.Else = d.Else, Container{}
			d.Inverted = !d.Inverted
		}
	}
}

func (j *jumper) loop(id ID, d *LoopData, follow *ir.Block) {
	f := frame{id: id, loop: true, brk: follow, cont: d.Header}
	if d.Type == LoopEndless {
		f.cont = j.entry(d.Body, nil)
	}
	if d.Type == LoopFor && d.Incr != nil {
		f.incr = j.holder(d.Body, d.Incr)
	}
	j.stack = append(j.stack, f)
	j.container(d.Body, f.cont)
	j.stack = j.stack[:len(j.stack)-1]
}

// loopExit returns a jump block for a conditional loop whose exit edge does
// not lead to follow, nil otherwise.
func (j *jumper) loopExit(id ID, follow *ir.Block) *ir.Block {
	r := j.tree.Get(id)
	if r.Kind != KindLoop || !r.Loop.Type.HasCondition() || r.Loop.Header == nil {
		return nil
	}
	x := r.Loop.Header
	out := x.Succ(ir.EdgeFalse)
	if r.Loop.Inverted {
		out = x.Succ(ir.EdgeTrue)
	}
	if out == nil || out == follow {
		return nil
	}
	return j.split(x, out).Block
}

func (j *jumper) cases(id ID, d *SwitchData, follow *ir.Block) {
	x := d.Cond
	j.stack = append(j.stack, frame{id: id, brk: follow})
	defer func() { j.stack = j.stack[:len(j.stack)-1] }()

	targets := make(map[int64]*ir.Block)
	for _, e := range x.Succs() {
		if e.Kind == ir.EdgeCase {
			targets[e.Value] = e.To
		}
	}
	for i := range d.Cases {
		c := &d.Cases[i]
		j.container(c.Body, follow)
		if len(c.Values) == 0 {
			continue
		}
		if to := targets[c.Values[0]]; c.Body.IsEmpty() && to != nil && to != follow {
			c.Body = j.split(x, to)
		}
	}
	j.container(d.Default, follow)
	dflt := x.Succ(ir.EdgeFallthrough)
	for _, c := range d.Cases {
		if c.Default {
			return
		}
	}
	if dflt != nil && d.Default.IsEmpty() && dflt != follow {
		d.Default = j.split(x, dflt)
	}
}

// split moves the from→to edge into a new synthetic block holding the jump.
func (j *jumper) split(from, to *ir.Block) Container {
	insn := j.jump(from, to)
	nb := j.method.SplitEdge(from, to)
	nb.Append(insn)
	nb.Add(ir.FlagSynthetic)
	return BlockContainer(nb)
}

// jump classifies the edge from→to against the enclosing loops and switches.
func (j *jumper) jump(from, to *ir.Block) *ir.Instr {
	innermost, innermostLoop := true, true
	for i := len(j.stack) - 1; i >= 0; i-- {
		f := j.stack[i]
		if f.loop && (to == f.cont || to == f.incr) {
			return ir.NewContinue(j.label(f.id, innermostLoop), to)
		}
		if to == f.brk {
			return ir.NewBreak(j.label(f.id, innermost), to)
		}
		innermost = false
		if f.loop {
			innermostLoop = false
		}
	}
	if !j.flat[to] {
		j.method.Warn(from, "unstructured jump from %s to %s", from, to)
	}
	return ir.NewGoto(to)
}

// label returns the label of region id, naming it on first use, or "" when
// the jump refers to the innermost candidate.
func (j *jumper) label(id ID, innermost bool) string {
	if innermost {
		return ""
	}
	r := j.tree.Get(id)
	if r.Label == "" {
		r.Label = "L" + strconv.Itoa(int(id))
	}
	return r.Label
}

// holder returns the block under c whose instructions include insn.
func (j *jumper) holder(c Container, insn *ir.Instr) *ir.Block {
	switch {
	case c.IsBlock():
		if slices.Contains(c.Block.Instrs(), insn) {
			return c.Block
		}
	case c.IsRegion():
		for _, sub := range j.tree.SubContainers(c.Region) {
			if b := j.holder(sub, insn); b != nil {
				return b
			}
		}
	}
	return nil
}
