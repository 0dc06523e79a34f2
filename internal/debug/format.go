// Package debug renders region trees for humans.
//
// Output of FormatTree for a counting loop guarded by a lock:
//
//	Function: pkg.count
//	└── sequence
//	    ├── B0: mu = &s.mu
//	    ├── synchronized s.mu
//	    │   └── sequence
//	    │       ├── B1: monitor-enter(s.mu)
//	    │       └── for (i = 0; i < n; i++) [B2]
//	    │           └── sequence
//	    │               └── B3: total = total + i
//	    └── B5 [RETURN]: return total
package debug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xlab/treeprint"

	"github.com/mpyw/regionize/internal/ir"
	"github.com/mpyw/regionize/internal/region"
)

// FormatTree returns the region tree of a function as an indented tree.
func FormatTree(funcName string, tree *region.Tree) string {
	root := treeprint.New()
	root.SetValue("Function: " + funcName)
	if tree == nil || tree.Get(tree.Root()) == nil {
		root.AddNode("(no regions)")
		return root.String()
	}
	p := printer{tree: tree, seen: make(map[region.ID]bool)}
	p.region(root, tree.Root())
	return root.String()
}

type printer struct {
	tree *region.Tree
	seen map[region.ID]bool
}

func (p *printer) container(parent treeprint.Tree, c region.Container) {
	switch {
	case c.IsBlock():
		parent.AddNode(blockLine(c.Block))
	case c.IsRegion():
		p.region(parent, c.Region)
	}
}

func (p *printer) region(parent treeprint.Tree, id region.ID) {
	r := p.tree.Get(id)
	switch {
	case r == nil:
		parent.AddNode(fmt.Sprintf("<missing R%d>", id))
		return
	case p.seen[id]:
		parent.AddNode(fmt.Sprintf("<cycle R%d>", id))
		return
	}
	p.seen[id] = true

	switch r.Kind {
	case region.KindSequence:
		label := "sequence"
		if r.Flat {
			label = "flat sequence"
		}
		if r.Comment != "" {
			label += ": " + r.Comment
		}
		br := parent.AddBranch(label)
		for _, c := range r.Children {
			p.container(br, c)
		}

	case region.KindIf:
		br := parent.AddBranch("if " + condText(r.If.Cond, r.If.Inverted) + " [" + r.If.Cond.String() + "]")
		p.arm(br, "then", r.If.Then)
		p.arm(br, "else", r.If.Else)

	case region.KindLoop:
		br := parent.AddBranch(labeled(r, loopLabel(r.Loop)))
		p.container(br, r.Loop.Body)

	case region.KindSwitch:
		br := parent.AddBranch(labeled(r, "switch "+operand(r.Switch.Cond)+" ["+r.Switch.Cond.String()+"]"))
		for _, c := range r.Switch.Cases {
			p.arm(br, caseLabel(c), c.Body)
		}
		p.arm(br, "default", r.Switch.Default)

	case region.KindTryCatch:
		br := parent.AddBranch("try")
		p.arm(br, "body", r.Try.Try)
		for _, c := range r.Try.Catches {
			types := make([]string, len(c.Types))
			for i, t := range c.Types {
				types[i] = t
				if t == ir.CatchAll {
					types[i] = "*"
				}
			}
			p.arm(br, "catch "+strings.Join(types, " | "), c.Handler)
		}
		p.arm(br, "finally", r.Try.Finally)

	case region.KindSynchronized:
		label := "synchronized"
		if r.Sync.Enter != nil {
			label += " " + r.Sync.Enter.Arg(0).String()
		}
		p.region(parent.AddBranch(label), r.Sync.Body)
	}
}

// arm prints a labeled slot; empty slots are omitted.
func (p *printer) arm(parent treeprint.Tree, label string, c region.Container) {
	if c.IsEmpty() {
		return
	}
	p.container(parent.AddBranch(label), c)
}

func blockLine(b *ir.Block) string {
	var sb strings.Builder
	sb.WriteString(b.String())
	if f := b.Flags(); f != 0 {
		sb.WriteString(" [" + f.String() + "]")
	}
	var parts []string
	for _, insn := range b.Instrs() {
		if insn.Has(ir.DontGenerate) || insn.Op == ir.OpIf || insn.Op == ir.OpSwitch {
			continue
		}
		parts = append(parts, insn.String())
	}
	if len(parts) > 0 {
		sb.WriteString(": " + strings.Join(parts, "; "))
	}
	return sb.String()
}

func labeled(r *region.Region, text string) string {
	if r.Label == "" {
		return text
	}
	return r.Label + ": " + text
}

func operand(b *ir.Block) string {
	if b == nil || b.Last() == nil {
		return "?"
	}
	return b.Last().Arg(0).String()
}

func condText(b *ir.Block, inverted bool) string {
	if inverted {
		return "!" + operand(b)
	}
	return operand(b)
}

func loopLabel(d *region.LoopData) string {
	switch d.Type {
	case region.LoopFor:
		init, incr := "", ""
		if d.Init != nil {
			init = d.Init.String()
		}
		if d.Incr != nil {
			incr = d.Incr.String()
		}
		return fmt.Sprintf("for (%s; %s; %s) [%s]", init, condText(d.Header, d.Inverted), incr, d.Header)
	case region.LoopWhile:
		return fmt.Sprintf("while %s [%s]", condText(d.Header, d.Inverted), d.Header)
	case region.LoopDoWhile:
		return fmt.Sprintf("do-while %s [%s]", condText(d.Header, d.Inverted), d.Header)
	}
	return "loop"
}

func caseLabel(c region.Case) string {
	vals := make([]string, 0, len(c.Values)+1)
	for _, v := range c.Values {
		vals = append(vals, strconv.FormatInt(v, 10))
	}
	if c.Default {
		vals = append(vals, "default")
	}
	return "case " + strings.Join(vals, ", ")
}
