// Package check validates a finished region tree against the block graph.
//
// Every anomaly becomes a method warning; validation never fails and never
// blocks code generation.
package check

import (
	"strings"

	"github.com/mpyw/regionize/internal/cfg"
	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/region"
)

// Regions checks tree for coverage, single placement, and loop condition
// arity. It returns the number of warnings added to m.
func Regions(m *ir.Method, tree *region.Tree, info *cfg.Info) int {
	if m == nil || !m.HasCode() || tree == nil || m.Err() != nil {
		return 0
	}
	before := len(m.Warnings())

	seen := make(map[*ir.Block]bool)
	tree.Walk(region.Visitor{
		Enter: func(_ region.ID, r *region.Region) bool {
			if r.Kind != region.KindLoop {
				return true
			}
			l := r.Loop
			if l.Type.HasCondition() && l.Header != nil && l.Header.Len() != 1 {
				m.Warn(l.Header, "incorrect condition in loop: %s", l.Header)
			}
			return true
		},
		Block: func(b *ir.Block) {
			if !seen[b] {
				seen[b] = true
				return
			}
			if !b.Has(ir.FlagAddedToRegion) {
				m.Warn(b, "duplicated block: %s", b)
			}
		},
	})

	for _, b := range info.RPO() {
		if seen[b] || b.Len() == 0 || b.Has(ir.FlagRemove|ir.FlagAddedToRegion) {
			continue
		}
		m.Warn(b, "missing block: %s, code skipped:\n%s", b, blockCode(b))
	}
	return len(m.Warnings()) - before
}

func blockCode(b *ir.Block) string {
	lines := make([]string, 0, b.Len())
	for _, insn := range b.Instrs() {
		lines = append(lines, "    "+insn.String())
	}
	return strings.Join(lines, "\n")
}
