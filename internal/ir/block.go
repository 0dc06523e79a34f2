package ir

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidRewrite is returned when an instruction mutation would break the
// wrapped-operand invariant.
var ErrInvalidRewrite = errors.New("invalid rewrite")

// ErrNotFound is joined to ErrInvalidRewrite when the target instruction is
// not in the block's list.
var ErrNotFound = errors.New("instruction not found")

// =============================================================================
// Flags
// =============================================================================

// BlockFlag is a pass-to-pass signal carried by the block itself.
type BlockFlag uint8

const (
	// FlagReturn marks a block ending the method.
	FlagReturn BlockFlag = 1 << iota
	// FlagSynthetic marks a block created by the front end, not by source code.
	FlagSynthetic
	// FlagRemove marks a dead or elided block; it need not appear in a region.
	FlagRemove
	// FlagAddedToRegion marks a block whose code was folded into another
	// container (ternary collapse); it need not appear in a region.
	FlagAddedToRegion
)

var blockFlagNames = []struct {
	f    BlockFlag
	name string
}{
	{FlagReturn, "RETURN"},
	{FlagSynthetic, "SYNTHETIC"},
	{FlagRemove, "REMOVE"},
	{FlagAddedToRegion, "ADDED_TO_REGION"},
}

func (f BlockFlag) String() string {
	var parts []string
	for _, n := range blockFlagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// =============================================================================
// Edges
// =============================================================================

// EdgeKind tags a successor edge.
type EdgeKind uint8

const (
	// EdgeFallthrough is an unconditional edge, and the default of a switch.
	EdgeFallthrough EdgeKind = iota
	EdgeTrue
	EdgeFalse
	// EdgeCase carries a switch case value.
	EdgeCase
	// EdgeHandler leads to an exception handler and carries its catch type.
	EdgeHandler
)

// CatchAll is the catch type of a handler taking every exception.
const CatchAll = ""

// FinallyType is the catch type a front end uses for a resolved finally
// handler.
const FinallyType = "<finally>"

// Edge is a successor edge.
type Edge struct {
	Kind  EdgeKind
	To    *Block
	Value int64
	Catch string
}

func (e Edge) String() string {
	switch e.Kind {
	case EdgeTrue:
		return "true->" + e.To.String()
	case EdgeFalse:
		return "false->" + e.To.String()
	case EdgeCase:
		return "case " + strconv.FormatInt(e.Value, 10) + "->" + e.To.String()
	case EdgeHandler:
		c := e.Catch
		if c == CatchAll {
			c = "*"
		}
		return "catch " + c + "->" + e.To.String()
	}
	return "->" + e.To.String()
}

// =============================================================================
// Block
// =============================================================================

// Block is a basic block.
type Block struct {
	ID     int
	instrs []*Instr
	succs  []Edge
	preds  []*Block
	flags  BlockFlag
}

// Instrs returns the instruction list. Callers must not retain it across
// rewrites.
func (b *Block) Instrs() []*Instr { return b.instrs }

// Len returns the number of top-level instructions.
func (b *Block) Len() int { return len(b.instrs) }

// Last returns the final instruction or nil.
func (b *Block) Last() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	return b.instrs[len(b.instrs)-1]
}

// EndsWith reports whether the last instruction has the given op.
func (b *Block) EndsWith(op Op) bool {
	last := b.Last()
	return last != nil && last.Op == op
}

// Succs returns all successor edges.
func (b *Block) Succs() []Edge { return b.succs }

// Preds returns predecessor blocks (one entry per incoming edge source).
func (b *Block) Preds() []*Block { return b.preds }

// NormalSuccs returns the distinct non-handler successors in edge order.
func (b *Block) NormalSuccs() []*Block {
	var out []*Block
	for _, e := range b.succs {
		if e.Kind == EdgeHandler || slices.Contains(out, e.To) {
			continue
		}
		out = append(out, e.To)
	}
	return out
}

// HandlerEdges returns the exception handler edges.
func (b *Block) HandlerEdges() []Edge {
	var out []Edge
	for _, e := range b.succs {
		if e.Kind == EdgeHandler {
			out = append(out, e)
		}
	}
	return out
}

// Succ returns the target of the first edge of the given kind.
func (b *Block) Succ(kind EdgeKind) *Block {
	for _, e := range b.succs {
		if e.Kind == kind {
			return e.To
		}
	}
	return nil
}

// Has reports whether the flag is set.
func (b *Block) Has(f BlockFlag) bool { return b.flags&f != 0 }

// Add sets a flag.
func (b *Block) Add(f BlockFlag) { b.flags |= f }

// Clear unsets a flag.
func (b *Block) Clear(f BlockFlag) { b.flags &^= f }

// Flags returns the raw flag set.
func (b *Block) Flags() BlockFlag { return b.flags }

// Append adds instructions at the end of the block.
func (b *Block) Append(insns ...*Instr) { b.instrs = append(b.instrs, insns...) }

// SetInstrs replaces the instruction list wholesale (rollback of a failed
// rewrite).
func (b *Block) SetInstrs(insns []*Instr) { b.instrs = insns }

// Snapshot returns a copy of the instruction list.
func (b *Block) Snapshot() []*Instr { return slices.Clone(b.instrs) }

// Replace substitutes old with repl at the same list position.
func (b *Block) Replace(old, repl *Instr) error {
	i, err := b.index(old)
	if err != nil {
		return err
	}
	if repl.IsWrapped() {
		return fmt.Errorf("%w: replacement %q is consumed as an operand", ErrInvalidRewrite, repl)
	}
	b.instrs[i] = repl
	return nil
}

// Remove deletes insn from the list.
func (b *Block) Remove(insn *Instr) error {
	i, err := b.index(insn)
	if err != nil {
		return err
	}
	b.instrs = slices.Delete(b.instrs, i, i+1)
	return nil
}

func (b *Block) index(insn *Instr) (int, error) {
	if insn.IsWrapped() {
		return -1, fmt.Errorf("%w: %q is consumed as an operand in %s", ErrInvalidRewrite, insn, b)
	}
	i := slices.Index(b.instrs, insn)
	if i < 0 {
		return -1, fmt.Errorf("%w: %w: %q in %s", ErrInvalidRewrite, ErrNotFound, insn, b)
	}
	return i, nil
}

func (b *Block) String() string { return "B" + strconv.Itoa(b.ID) }

// Describe renders the block header and its instructions, one per line.
func (b *Block) Describe() string {
	var sb strings.Builder
	sb.WriteString(b.String())
	if b.flags != 0 {
		sb.WriteString(" [" + b.flags.String() + "]")
	}
	for _, insn := range b.instrs {
		sb.WriteString("\n    " + insn.String())
	}
	return sb.String()
}
