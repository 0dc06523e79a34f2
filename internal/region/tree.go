package region

import (
	"github.com/mpyw/regionize/internal/ir"
)

// Tree is the per-method region arena. It is built once, consumed by the
// validator and normalizer, and discarded after code generation.
type Tree struct {
	regions []*Region // index 0 is NoRegion
	root    ID
}

// NewTree returns an empty arena.
func NewTree() *Tree {
	return &Tree{regions: []*Region{nil}}
}

// NewStub returns a tree whose root is an empty sequence carrying comment.
// It stands in for the body of a method whose structuring failed.
func NewStub(comment string) *Tree {
	t := NewTree()
	root := t.NewSequence(NoRegion)
	t.Get(root).Comment = comment
	t.SetRoot(root)
	return t
}

func (t *Tree) add(r *Region) ID {
	t.regions = append(t.regions, r)
	return ID(len(t.regions) - 1)
}

// Get returns the region for id, nil for NoRegion.
func (t *Tree) Get(id ID) *Region {
	if id <= NoRegion || int(id) >= len(t.regions) {
		return nil
	}
	return t.regions[id]
}

// Root returns the root handle.
func (t *Tree) Root() ID { return t.root }

// SetRoot sets the root handle.
func (t *Tree) SetRoot(id ID) { t.root = id }

// Parent returns the parent handle of id.
func (t *Tree) Parent(id ID) ID {
	if r := t.Get(id); r != nil {
		return r.Parent
	}
	return NoRegion
}

// SetParent re-parents id.
func (t *Tree) SetParent(id, parent ID) {
	if r := t.Get(id); r != nil {
		r.Parent = parent
	}
}

// Len returns the number of regions allocated in the arena.
func (t *Tree) Len() int { return len(t.regions) - 1 }

// NewSequence allocates a sequence region.
func (t *Tree) NewSequence(parent ID) ID {
	return t.add(&Region{Kind: KindSequence, Parent: parent})
}

// NewIf allocates an if region for cond.
func (t *Tree) NewIf(parent ID, cond *ir.Block) ID {
	return t.add(&Region{Kind: KindIf, Parent: parent, If: &IfData{Cond: cond}})
}

// NewLoop allocates a loop region.
func (t *Tree) NewLoop(parent ID, typ LoopType) ID {
	return t.add(&Region{Kind: KindLoop, Parent: parent, Loop: &LoopData{Type: typ}})
}

// NewSwitch allocates a switch region for cond.
func (t *Tree) NewSwitch(parent ID, cond *ir.Block) ID {
	return t.add(&Region{Kind: KindSwitch, Parent: parent, Switch: &SwitchData{Cond: cond}})
}

// NewTry allocates a try/catch region.
func (t *Tree) NewTry(parent ID) ID {
	return t.add(&Region{Kind: KindTryCatch, Parent: parent, Try: &TryData{}})
}

// NewSync allocates a synchronized region together with its body sequence.
func (t *Tree) NewSync(parent ID, enter *ir.Instr) ID {
	id := t.add(&Region{Kind: KindSynchronized, Parent: parent})
	body := t.NewSequence(id)
	t.Get(id).Sync = &SyncData{Enter: enter, Body: body}
	return id
}

// Append adds c to the end of a sequence, re-parenting region containers.
func (t *Tree) Append(seq ID, c Container) {
	r := t.Get(seq)
	r.Children = append(r.Children, c)
	if c.IsRegion() {
		t.SetParent(c.Region, seq)
	}
}

// ReplaceChild swaps old for repl in a sequence; it reports whether old was
// found.
func (t *Tree) ReplaceChild(seq ID, old, repl Container) bool {
	r := t.Get(seq)
	for i, c := range r.Children {
		if c == old {
			r.Children[i] = repl
			if repl.IsRegion() {
				t.SetParent(repl.Region, seq)
			}
			return true
		}
	}
	return false
}

// SubContainers returns the ordered child slots of a region, condition and
// header blocks included. Empty slots are skipped.
func (t *Tree) SubContainers(id ID) []Container {
	r := t.Get(id)
	if r == nil {
		return nil
	}
	var out []Container
	add := func(c Container) {
		if !c.IsEmpty() {
			out = append(out, c)
		}
	}
	switch r.Kind {
	case KindSequence:
		for _, c := range r.Children {
			add(c)
		}
	case KindIf:
		add(BlockContainer(r.If.Cond))
		add(r.If.Then)
		add(r.If.Else)
	case KindLoop:
		if r.Loop.Header != nil && r.Loop.Type != LoopDoWhile {
			add(BlockContainer(r.Loop.Header))
		}
		add(r.Loop.Body)
		if r.Loop.Header != nil && r.Loop.Type == LoopDoWhile {
			add(BlockContainer(r.Loop.Header))
		}
	case KindSwitch:
		add(BlockContainer(r.Switch.Cond))
		for _, c := range r.Switch.Cases {
			add(c.Body)
		}
		add(r.Switch.Default)
	case KindTryCatch:
		add(r.Try.Try)
		for _, c := range r.Try.Catches {
			add(c.Handler)
		}
		add(r.Try.Finally)
	case KindSynchronized:
		add(RegionContainer(r.Sync.Body))
	}
	return out
}

// Visitor receives a depth-first traversal. Nil callbacks are skipped;
// returning false from Enter skips the region's children.
type Visitor struct {
	Enter func(id ID, r *Region) bool
	Leave func(id ID, r *Region)
	Block func(b *ir.Block)
}

// Walk traverses the tree from the root.
func (t *Tree) Walk(v Visitor) {
	if t.root != NoRegion {
		t.walk(t.root, v, make(map[ID]bool))
	}
}

func (t *Tree) walk(id ID, v Visitor, seen map[ID]bool) {
	// A region reachable twice would make the tree a DAG; visit it once.
	if seen[id] {
		return
	}
	seen[id] = true
	r := t.Get(id)
	if v.Enter != nil && !v.Enter(id, r) {
		return
	}
	for _, c := range t.SubContainers(id) {
		if c.IsBlock() {
			if v.Block != nil {
				v.Block(c.Block)
			}
			continue
		}
		t.walk(c.Region, v, seen)
	}
	if v.Leave != nil {
		v.Leave(id, r)
	}
}

// Blocks returns every block container in traversal order, duplicates
// included.
func (t *Tree) Blocks() []*ir.Block {
	var out []*ir.Block
	t.Walk(Visitor{Block: func(b *ir.Block) { out = append(out, b) }})
	return out
}

// Enclosing returns the nearest ancestor of id (id included) of the given
// kind, or NoRegion.
func (t *Tree) Enclosing(id ID, kind Kind) ID {
	for cur := id; cur != NoRegion; cur = t.Parent(cur) {
		if t.Get(cur).Kind == kind {
			return cur
		}
	}
	return NoRegion
}
