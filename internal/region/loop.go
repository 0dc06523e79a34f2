package region

import (
	"github.com/mpyw/regionize/internal/cfg"
	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Loop Extraction
//
// Shapes, tried in order:
//
//	while     header holds only `if cond`, one edge stays, one leaves
//	for       while + single latch `i = i op k` + preheader assigning i
//	do-while  single latch holding only `if cond` back to the header
//	endless   anything else; left through break or return
//
// The body is every block the header dominates that cannot be reached from
// the follow block without passing the header again.
// =============================================================================

type loopShape struct {
	typ      LoopType
	cond     *ir.Block // condition block; nil for endless
	start    *ir.Block // first body block
	follow   *ir.Block
	exit     Edge
	inverted bool
	init     *ir.Instr
	incr     *ir.Instr
}

func (b *builder) makeLoop(seq ID, l *cfg.Loop, sc scope) *ir.Block {
	h := l.Header
	b.inProgress[h] = true
	shape := b.classifyLoop(l)

	id := b.tree.NewLoop(seq, shape.typ)
	b.tree.Append(seq, RegionContainer(id))
	d := b.tree.Get(id).Loop
	d.Header = shape.cond
	d.Exit = shape.exit
	d.Inverted = shape.inverted
	d.Init = shape.init
	d.Incr = shape.incr
	if shape.cond != nil {
		b.claim(id, shape.cond)
	}

	bodyScope := sc.with(shape.cond, shape.follow).at(shape.start)
	bodyScope.allowed = b.loopBody(l, shape.follow, sc)
	if shape.start != nil {
		d.Body = b.subRegion(id, shape.start, bodyScope)
	}

	b.log.Debug("loop", "header", h.String(), "type", shape.typ.String(), "follow", blockName(shape.follow))
	return shape.follow
}

func (b *builder) classifyLoop(l *cfg.Loop) loopShape {
	h := l.Header
	if in, out, inverted, ok := b.conditionEdges(l, h); ok {
		shape := loopShape{typ: LoopWhile, cond: h, start: in, follow: out, exit: Edge{From: h, To: out}, inverted: inverted}
		if init, incr, ok := b.forClauses(l, h); ok {
			shape.typ = LoopFor
			shape.init, shape.incr = init, incr
			init.Add(ir.DontGenerate)
			incr.Add(ir.DontGenerate)
		}
		if in == h {
			shape.start = nil
		}
		return shape
	}
	if len(l.Latches) == 1 && l.Latches[0] != h {
		u := l.Latches[0]
		if back, out, inverted, ok := b.conditionEdges(l, u); ok && back == h {
			return loopShape{typ: LoopDoWhile, cond: u, start: h, follow: out, exit: Edge{From: u, To: out}, inverted: inverted}
		}
	}
	shape := loopShape{typ: LoopEndless, start: h, follow: b.endlessFollow(l)}
	for _, e := range l.Exits {
		if e.To == shape.follow {
			shape.exit = Edge{From: e.From, To: e.To}
			break
		}
	}
	return shape
}

// conditionEdges checks that c holds only a conditional branch with one
// successor inside the loop and one outside.
func (b *builder) conditionEdges(l *cfg.Loop, c *ir.Block) (in, out *ir.Block, inverted, ok bool) {
	if c.Len() != 1 || c.Last().Op != ir.OpIf || len(c.HandlerEdges()) > 0 {
		return nil, nil, false, false
	}
	t, f := c.Succ(ir.EdgeTrue), c.Succ(ir.EdgeFalse)
	if t == nil || f == nil {
		return nil, nil, false, false
	}
	switch {
	case l.Contains(t) && !l.Contains(f):
		return t, f, false, true
	case l.Contains(f) && !l.Contains(t):
		return f, t, true, true
	}
	return nil, nil, false, false
}

// forClauses finds `init; cond; incr` around a while-shaped header: a single
// latch whose only instruction updates a register the condition reads, and a
// single outside predecessor that assigns that register last.
func (b *builder) forClauses(l *cfg.Loop, h *ir.Block) (init, incr *ir.Instr, ok bool) {
	if len(l.Latches) != 1 || l.Latches[0] == h {
		return nil, nil, false
	}
	u := l.Latches[0]
	if u.Len() != 1 || len(u.NormalSuccs()) != 1 {
		return nil, nil, false
	}
	incr = u.Last()
	if incr.Op != ir.OpArith || incr.Result == nil || !incr.Arg(0).IsReg(*incr.Result) {
		return nil, nil, false
	}
	if !h.Last().Reads(*incr.Result) {
		return nil, nil, false
	}

	var pre *ir.Block
	for _, p := range b.info.Preds(h) {
		if l.Contains(p) {
			continue
		}
		if pre != nil {
			return nil, nil, false
		}
		pre = p
	}
	if pre == nil {
		return nil, nil, false
	}
	init = preheaderInit(pre, *incr.Result)
	if init == nil {
		return nil, nil, false
	}
	return init, incr, true
}

// preheaderInit finds the last assignment of r in pre. Only register copies
// that neither touch r nor feed the assignment may follow it.
func preheaderInit(pre *ir.Block, r ir.Reg) *ir.Instr {
	list := pre.Instrs()
	var later []*ir.Instr
	for i := len(list) - 1; i >= 0; i-- {
		insn := list[i]
		if insn.Writes(r) {
			if insn.Op.IsControl() {
				return nil
			}
			for _, x := range later {
				if insn.Reads(*x.Result) {
					return nil
				}
			}
			return insn
		}
		if (insn.Op != ir.OpMove && insn.Op != ir.OpConst) || insn.Reads(r) {
			return nil
		}
		later = append(later, insn)
	}
	return nil
}

// endlessFollow picks where an endless loop continues: the exit target with
// the largest forward reach, then the most exit edges, then the latest block.
func (b *builder) endlessFollow(l *cfg.Loop) *ir.Block {
	edges := make(map[*ir.Block]int)
	for _, e := range l.Exits {
		if e.To.Has(ir.FlagRemove) {
			continue
		}
		edges[e.To]++
	}
	var best *ir.Block
	bestReach := 0
	for _, target := range l.ExitTargets() {
		n, ok := edges[target]
		if !ok {
			continue
		}
		reach := len(b.info.ReachableAvoiding(target, l.Header))
		switch {
		case best == nil,
			reach > bestReach,
			reach == bestReach && n > edges[best],
			reach == bestReach && n == edges[best] && b.info.Order(target) > b.info.Order(best):
			best, bestReach = target, reach
		}
	}
	return best
}

// loopBody returns the blocks the body traversal may take.
func (b *builder) loopBody(l *cfg.Loop, follow *ir.Block, sc scope) map[*ir.Block]bool {
	var after map[*ir.Block]bool
	if follow != nil {
		after = b.info.ReachableAvoiding(follow, l.Header)
	}
	body := make(map[*ir.Block]bool)
	for _, x := range b.info.RPO() {
		if !b.info.Dominates(l.Header, x) || after[x] {
			continue
		}
		if sc.allowed != nil && !sc.allowed[x] {
			continue
		}
		body[x] = true
	}
	return body
}
