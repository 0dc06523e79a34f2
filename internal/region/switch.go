package region

import (
	"slices"
	"sort"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Switch Extraction
//
// Case edges are grouped by target so `case 1, 2:` shares one body, and the
// groups are ordered by their smallest value. A default edge landing on a
// case target joins that group. A target that is the merge block, or that is
// entered from elsewhere too, becomes an empty case jumping to shared code.
// =============================================================================

type caseGroup struct {
	target  *ir.Block
	values  []int64
	isDflt  bool
	minimum int64
}

func (b *builder) makeSwitch(seq ID, x *ir.Block, sc scope) *ir.Block {
	var groups []*caseGroup
	byTarget := make(map[*ir.Block]*caseGroup)
	dflt := x.Succ(ir.EdgeFallthrough)
	for _, e := range x.Succs() {
		if e.Kind != ir.EdgeCase {
			continue
		}
		g := byTarget[e.To]
		if g == nil {
			g = &caseGroup{target: e.To}
			byTarget[e.To] = g
			groups = append(groups, g)
		}
		g.values = append(g.values, e.Value)
	}
	for _, g := range groups {
		slices.Sort(g.values)
		g.minimum = g.values[0]
		if g.target == dflt {
			g.isDflt = true
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].minimum < groups[j].minimum })

	// Every distinct target is an arm candidate.
	targets := make([]*ir.Block, 0, len(groups)+1)
	for _, g := range groups {
		targets = append(targets, g.target)
	}
	if dflt != nil && byTarget[dflt] == nil {
		targets = append(targets, dflt)
	}
	owned := make(map[*ir.Block]bool)
	for _, t := range targets {
		if b.owns(x, t) && b.canPlace(t, sc) {
			owned[t] = true
		}
	}
	v := newVotes(b.info)
	for _, t := range targets {
		if !owned[t] {
			if !sc.stops[t] {
				v.add(t)
			}
			continue
		}
		for _, d := range b.exitsOf(t, sc) {
			if !owned[d] {
				v.add(d)
			}
		}
	}
	merge := v.pick()

	id := b.tree.NewSwitch(seq, x)
	b.tree.Append(seq, RegionContainer(id))
	b.claim(id, x)
	d := b.tree.Get(id).Switch

	armScope := sc.with(merge)
	arm := func(t *ir.Block) Container {
		if t == merge || !owned[t] {
			return Container{}
		}
		return b.subRegion(id, t, armScope.at(t))
	}
	for _, g := range groups {
		d.Cases = append(d.Cases, Case{Values: g.values, Default: g.isDflt, Body: arm(g.target)})
	}
	if dflt != nil && byTarget[dflt] == nil {
		d.Default = arm(dflt)
	}
	b.log.Debug("switch", "cond", x.String(), "cases", len(d.Cases), "merge", blockName(merge))
	return merge
}
