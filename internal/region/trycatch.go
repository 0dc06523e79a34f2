package region

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Try/Catch Extraction
//
// Handler edges define the scopes. Handlers protecting exactly the same
// blocks form one try with several catches; a handler reachable under
// several catch types becomes one multi-type catch. Scopes nest by
// inclusion of their protected sets, and the scope whose entry is reached
// first with the largest set is opened first.
//
// A catch-all handler that only releases a monitor and rethrows is compiler
// scaffolding for synchronized blocks; it is marked REMOVE and never placed.
// =============================================================================

type handlerInfo struct {
	block *ir.Block
	types []string
}

type tryScope struct {
	entry     *ir.Block
	protected map[*ir.Block]bool
	handlers  []*handlerInfo
	done      bool
}

type tryScopes struct {
	at map[*ir.Block][]*tryScope // outermost first
}

func (b *builder) findTryScopes() *tryScopes {
	prot := make(map[*ir.Block]map[*ir.Block]bool)
	infos := make(map[*ir.Block]*handlerInfo)
	var order []*ir.Block
	for _, x := range b.info.RPO() {
		for _, e := range x.HandlerEdges() {
			h := e.To
			if e.Catch == ir.CatchAll && isMonitorCleanup(h) {
				h.Add(ir.FlagRemove | ir.FlagSynthetic)
				continue
			}
			if h.Has(ir.FlagRemove) {
				continue
			}
			hi := infos[h]
			if hi == nil {
				hi = &handlerInfo{block: h}
				infos[h] = hi
				prot[h] = make(map[*ir.Block]bool)
				order = append(order, h)
			}
			prot[h][x] = true
			if !slices.Contains(hi.types, e.Catch) {
				hi.types = append(hi.types, e.Catch)
			}
		}
	}

	scopes := &tryScopes{at: make(map[*ir.Block][]*tryScope)}
	byKey := make(map[string]*tryScope)
	var all []*tryScope
	for _, h := range order {
		key := b.setKey(prot[h])
		s := byKey[key]
		if s == nil {
			s = &tryScope{protected: prot[h]}
			byKey[key] = s
			all = append(all, s)
		}
		s.handlers = append(s.handlers, infos[h])
	}
	for _, s := range all {
		blocks := make([]*ir.Block, 0, len(s.protected))
		for x := range s.protected {
			blocks = append(blocks, x)
		}
		b.info.SortByOrder(blocks)
		s.entry = blocks[0]
		for _, x := range blocks[1:] {
			if !b.info.Dominates(s.entry, x) {
				b.method.Warn(x, "protected block %s is not dominated by try entry %s", x, s.entry)
			}
		}
		scopes.at[s.entry] = append(scopes.at[s.entry], s)
	}
	for _, list := range scopes.at {
		slices.SortStableFunc(list, func(p, q *tryScope) int { return len(q.protected) - len(p.protected) })
	}
	return scopes
}

// setKey renders a block set as a stable string.
func (b *builder) setKey(set map[*ir.Block]bool) string {
	ids := make([]int, 0, len(set))
	for x := range set {
		ids = append(ids, x.ID)
	}
	slices.Sort(ids)
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(strconv.Itoa(id))
		sb.WriteByte(',')
	}
	return sb.String()
}

// isMonitorCleanup matches `monitor-exit; throw` handlers, optionally with
// moves of the caught value before them.
func isMonitorCleanup(h *ir.Block) bool {
	if h.Len() < 2 || h.Last().Op != ir.OpThrow {
		return false
	}
	exits := 0
	for _, insn := range h.Instrs()[:h.Len()-1] {
		switch insn.Op {
		case ir.OpMonitorExit:
			exits++
		case ir.OpMove, ir.OpOther:
		default:
			return false
		}
	}
	return exits > 0
}

func (b *builder) makeTryCatch(seq ID, x *ir.Block, sc scope) (*ir.Block, bool) {
	var s *tryScope
	for _, cand := range b.tries.at[x] {
		if !cand.done {
			s = cand
			break
		}
	}
	if s == nil {
		return nil, false
	}
	s.done = true

	allowed := make(map[*ir.Block]bool, len(s.protected))
	for y := range s.protected {
		if sc.allowed == nil || sc.allowed[y] {
			allowed[y] = true
		}
	}

	v := newVotes(b.info)
	for y := range s.protected {
		for _, n := range y.NormalSuccs() {
			if !s.protected[n] && !sc.stops[n] {
				v.add(n)
			}
		}
	}
	for _, h := range s.handlers {
		for _, d := range b.exitsOf(h.block, sc) {
			v.add(d)
		}
	}
	next := v.pick()

	id := b.tree.NewTry(seq)
	b.tree.Append(seq, RegionContainer(id))
	d := b.tree.Get(id).Try

	bodyScope := sc.with(next).at(x)
	bodyScope.allowed = allowed
	d.Try = b.subRegion(id, x, bodyScope)

	armScope := sc.with(next)
	for _, h := range s.handlers {
		c := b.subRegion(id, h.block, armScope.at(h.block))
		if slices.Contains(h.types, ir.FinallyType) {
			d.Finally = c
			continue
		}
		d.Catches = append(d.Catches, Catch{Types: h.types, Handler: c})
	}
	b.log.Debug("try", "entry", x.String(), "handlers", len(s.handlers), "next", blockName(next))
	return next, true
}
