package ir

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInconsistentEdges is returned by Verify when successor and predecessor
// lists disagree, or an edge leaves the method.
var ErrInconsistentEdges = errors.New("inconsistent edge set")

// Warning is a recoverable diagnostic attached to a method.
type Warning struct {
	Message string
	Block   string // originating block description, empty when method-wide
}

func (w Warning) String() string {
	if w.Block == "" {
		return w.Message
	}
	return w.Message + " (at " + w.Block + ")"
}

// Method owns the block graph of one method body.
type Method struct {
	Name string

	blocks   []*Block
	entry    *Block
	warnings []Warning
	err      error
}

// NewMethod returns an empty method.
func NewMethod(name string) *Method {
	return &Method{Name: name}
}

// NewBlock creates a block owned by the method. The first block created is
// the entry unless SetEntry says otherwise.
func (m *Method) NewBlock() *Block {
	b := &Block{ID: len(m.blocks)}
	m.blocks = append(m.blocks, b)
	if m.entry == nil {
		m.entry = b
	}
	return b
}

// Blocks returns all blocks in creation order.
func (m *Method) Blocks() []*Block { return m.blocks }

// Entry returns the entry block, nil for methods without code.
func (m *Method) Entry() *Block { return m.entry }

// SetEntry overrides the entry block.
func (m *Method) SetEntry(b *Block) { m.entry = b }

// HasCode reports whether the method has a body.
func (m *Method) HasCode() bool { return m.entry != nil && len(m.blocks) > 0 }

// Connect adds a from→to edge of the given kind.
func (m *Method) Connect(from *Block, kind EdgeKind, to *Block) {
	m.addEdge(from, Edge{Kind: kind, To: to})
}

// ConnectCase adds a switch case edge.
func (m *Method) ConnectCase(from *Block, value int64, to *Block) {
	m.addEdge(from, Edge{Kind: EdgeCase, To: to, Value: value})
}

// ConnectHandler adds an exception handler edge.
func (m *Method) ConnectHandler(from *Block, catch string, to *Block) {
	m.addEdge(from, Edge{Kind: EdgeHandler, To: to, Catch: catch})
}

func (m *Method) addEdge(from *Block, e Edge) {
	from.succs = append(from.succs, e)
	for _, p := range e.To.preds {
		if p == from {
			return
		}
	}
	e.To.preds = append(e.To.preds, from)
}

// Verify checks that every edge stays inside the method and that successor and
// predecessor lists mirror each other.
func (m *Method) Verify() error {
	owned := make(map[*Block]bool, len(m.blocks))
	for _, b := range m.blocks {
		owned[b] = true
	}
	if m.entry != nil && !owned[m.entry] {
		return fmt.Errorf("%w: entry %s is not a block of %s", ErrInconsistentEdges, m.entry, m.Name)
	}
	for _, b := range m.blocks {
		for _, e := range b.succs {
			if e.To == nil || !owned[e.To] {
				return fmt.Errorf("%w: %s has an edge leaving %s", ErrInconsistentEdges, b, m.Name)
			}
			if !hasPred(e.To, b) {
				return fmt.Errorf("%w: %s missing predecessor %s", ErrInconsistentEdges, e.To, b)
			}
		}
		for _, p := range b.preds {
			if !owned[p] || p.edgeTo(b) == nil {
				return fmt.Errorf("%w: %s lists predecessor %s without an edge", ErrInconsistentEdges, b, p)
			}
		}
	}
	return nil
}

func hasPred(b, p *Block) bool {
	for _, x := range b.preds {
		if x == p {
			return true
		}
	}
	return false
}

func (b *Block) edgeTo(to *Block) *Edge {
	for i := range b.succs {
		if b.succs[i].To == to {
			return &b.succs[i]
		}
	}
	return nil
}

// SplitEdge inserts a new block on every normal from→to edge and returns it;
// the new block falls through to to. It returns nil when there is no such
// edge.
func (m *Method) SplitEdge(from, to *Block) *Block {
	found := false
	for _, e := range from.succs {
		if e.To == to && e.Kind != EdgeHandler {
			found = true
		}
	}
	if !found {
		return nil
	}
	nb := m.NewBlock()
	for i := range from.succs {
		if from.succs[i].To == to && from.succs[i].Kind != EdgeHandler {
			from.succs[i].To = nb
		}
	}
	nb.preds = []*Block{from}
	m.addEdge(nb, Edge{Kind: EdgeFallthrough, To: to})
	if from.edgeTo(to) == nil {
		to.preds = slices.DeleteFunc(to.preds, func(p *Block) bool { return p == from })
	}
	return nb
}

// Edge returns the first edge from b to to, or nil.
func (b *Block) Edge(to *Block) *Edge { return b.edgeTo(to) }

// Warn records a recoverable diagnostic. b may be nil.
func (m *Method) Warn(b *Block, format string, args ...any) {
	w := Warning{Message: fmt.Sprintf(format, args...)}
	if b != nil {
		w.Block = b.String()
	}
	m.warnings = append(m.warnings, w)
}

// Warnings returns the diagnostics recorded so far.
func (m *Method) Warnings() []Warning { return m.warnings }

// MarkError abandons the method: code generation must use a fallback body.
func (m *Method) MarkError(err error) {
	m.err = errors.Join(m.err, err)
}

// Err returns the fault that made the method erroneous, or nil.
func (m *Method) Err() error { return m.err }

func (m *Method) String() string { return m.Name }
