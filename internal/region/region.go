// Package region builds and holds the structured region tree of a method.
//
// # Tree Shape
//
//	Sequence ─┬─ Block
//	          ├─ If ───────── Cond(Block) · Then · Else
//	          ├─ Loop ─────── Header(Block) · Body
//	          ├─ Switch ───── Cond(Block) · Cases[] · Default
//	          ├─ TryCatch ─── Try · Catches[] · Finally
//	          └─ Synchronized ─ Body(Sequence)
//
// Regions live in a per-method arena (Tree) and refer to each other through
// ID handles; the parent link is a handle too, so extraction can re-parent
// freely. Every reachable block occupies exactly one container slot.
package region

import (
	"github.com/mpyw/regionize/internal/ir"
)

// ID is a handle into a Tree arena.
type ID int32

// NoRegion is the nil handle.
const NoRegion ID = 0

// Kind is the region discriminant.
type Kind uint8

const (
	KindSequence Kind = iota
	KindIf
	KindLoop
	KindSwitch
	KindTryCatch
	KindSynchronized
)

var kindNames = [...]string{
	KindSequence:     "Sequence",
	KindIf:           "If",
	KindLoop:         "Loop",
	KindSwitch:       "Switch",
	KindTryCatch:     "TryCatch",
	KindSynchronized: "Synchronized",
}

func (k Kind) String() string { return kindNames[k] }

// Container is a slot holding a block, a region, or nothing.
type Container struct {
	Block  *ir.Block
	Region ID
}

// BlockContainer wraps a leaf block.
func BlockContainer(b *ir.Block) Container { return Container{Block: b} }

// RegionContainer wraps a region handle.
func RegionContainer(id ID) Container { return Container{Region: id} }

// IsBlock reports whether the slot holds a block.
func (c Container) IsBlock() bool { return c.Block != nil }

// IsRegion reports whether the slot holds a region.
func (c Container) IsRegion() bool { return c.Block == nil && c.Region != NoRegion }

// IsEmpty reports whether the slot is unused.
func (c Container) IsEmpty() bool { return c.Block == nil && c.Region == NoRegion }

// =============================================================================
// Payloads
// =============================================================================

// IfData is the payload of KindIf.
type IfData struct {
	Cond *ir.Block
	Then Container
	Else Container
	// Inverted means Then runs when the condition is false.
	Inverted bool
}

// LoopType classifies a loop's shape.
type LoopType uint8

const (
	// LoopEndless has no condition; it is left through break/return.
	LoopEndless LoopType = iota
	// LoopWhile tests its condition at the top.
	LoopWhile
	// LoopDoWhile tests its condition at the bottom.
	LoopDoWhile
	// LoopFor is a LoopWhile with separate init and increment.
	LoopFor
)

var loopTypeNames = [...]string{
	LoopEndless: "endless",
	LoopWhile:   "while",
	LoopDoWhile: "do-while",
	LoopFor:     "for",
}

func (t LoopType) String() string { return loopTypeNames[t] }

// HasCondition reports whether the loop shape owns a condition block.
func (t LoopType) HasCondition() bool { return t != LoopEndless }

// Edge is a CFG edge reference.
type Edge struct {
	From *ir.Block
	To   *ir.Block
}

// LoopData is the payload of KindLoop.
type LoopData struct {
	Type LoopType
	// Header is the condition block: at the top for while/for, at the bottom
	// for do-while, nil for endless loops.
	Header *ir.Block
	Body   Container
	// Exit is the edge leaving the loop to its follow block; zero when the
	// loop never terminates normally.
	Exit Edge
	// Init and Incr are the for-loop clauses, flagged DontGenerate in their
	// blocks.
	Init *ir.Instr
	Incr *ir.Instr
	// Inverted means the loop continues while the condition is false.
	Inverted bool
}

// Case is one switch branch.
type Case struct {
	Values []int64
	// Default marks a case sharing its body with the default branch.
	Default bool
	// Body is empty when the case jumps straight to shared code.
	Body Container
}

// SwitchData is the payload of KindSwitch.
type SwitchData struct {
	Cond    *ir.Block
	Cases   []Case
	Default Container
}

// Catch is one exception handler.
type Catch struct {
	Types   []string
	Handler Container
}

// TryData is the payload of KindTryCatch.
type TryData struct {
	Try     Container
	Catches []Catch
	Finally Container
}

// SyncData is the payload of KindSynchronized.
type SyncData struct {
	Enter *ir.Instr
	// Body is a KindSequence region; its first container is the block
	// holding Enter.
	Body ID
}

// Region is a node of the tree. Exactly the payload matching Kind is set.
type Region struct {
	Kind   Kind
	Parent ID

	// KindSequence
	Children []Container
	// Flat marks a fallback sequence whose blocks are rendered with labels
	// and explicit jumps.
	Flat bool
	// Comment replaces the body of a stub.
	Comment string
	// Label names a loop or switch that a labeled break or continue leaves.
	Label string

	If     *IfData
	Loop   *LoopData
	Switch *SwitchData
	Try    *TryData
	Sync   *SyncData
}
