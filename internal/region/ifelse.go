package region

import (
	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// If/Else Extraction
//
//	        ┌─────┐
//	        │  x  │ if cond
//	        └┬───┬┘
//	    true ↓   ↓ false
//	     ┌─────┐ ┌─────┐
//	     │  T  │ │  F  │   arms: owned when x is their only way in
//	     └──┬──┘ └──┬──┘
//	        ↓       ↓
//	        ┌───────┐
//	        │ merge │       most frequent exit of the arms
//	        └───────┘
//
// An arm that never reaches the merge (return, throw, continue, break) lets
// the other arm become the continuation of the enclosing sequence:
//
//	if (c) { return; }      instead of      if (c) { return; } else { F }
//	F
// =============================================================================

func (b *builder) makeIf(seq ID, x *ir.Block, sc scope) *ir.Block {
	t, f := x.Succ(ir.EdgeTrue), x.Succ(ir.EdgeFalse)
	if t == nil || f == nil {
		succs := x.NormalSuccs()
		t, f = succs[0], succs[1]
	}

	tOwn := b.owns(x, t) && b.canPlace(t, sc)
	fOwn := b.owns(x, f) && b.canPlace(f, sc)

	v := newVotes(b.info)
	var tExits, fExits []*ir.Block
	if tOwn {
		tExits = b.exitsOf(t, sc)
		for _, d := range tExits {
			v.add(d)
		}
	} else if !sc.stops[t] {
		v.add(t)
	}
	if fOwn {
		fExits = b.exitsOf(f, sc)
		for _, d := range fExits {
			v.add(d)
		}
	} else if !sc.stops[f] {
		v.add(f)
	}
	merge := v.pick()

	id := b.tree.NewIf(seq, x)
	b.tree.Append(seq, RegionContainer(id))
	b.claim(id, x)
	d := b.tree.Get(id).If

	switch {
	case tOwn && fOwn && len(tExits) > 0 && len(fExits) == 0:
		// The false arm leaves; the true arm continues the sequence.
		d.Then = b.subRegion(id, f, sc.at(f))
		d.Inverted = true
		return t
	case tOwn && fOwn && len(tExits) == 0 && len(fExits) > 0:
		d.Then = b.subRegion(id, t, sc.at(t))
		return f
	}

	armScope := sc.with(merge)
	switch {
	case tOwn && fOwn:
		d.Then = b.subRegion(id, t, armScope.at(t))
		d.Else = b.subRegion(id, f, armScope.at(f))
	case tOwn:
		d.Then = b.subRegion(id, t, armScope.at(t))
	case fOwn:
		d.Then = b.subRegion(id, f, armScope.at(f))
		d.Inverted = true
	}
	b.log.Debug("if", "cond", x.String(), "merge", blockName(merge), "inverted", d.Inverted)
	return merge
}

func blockName(x *ir.Block) string {
	if x == nil {
		return "-"
	}
	return x.String()
}
