// Package lower translates go/ssa functions into the block model.
//
// # Translation
//
//	SSA                                  block model
//	─────────────────────────────────    ─────────────────────────────────
//	phi                                  register shared with its incoming
//	                                     value, or a move in the predecessor
//	single-use pure value                wrapped into its consumer
//	If / Jump                            true,false edges / fallthrough edge
//	Return / Panic                       return (RETURN block) / throw
//	x == c1 … chain (ssautil.Switches)   switch with case edges
//	(*sync.Mutex).Lock / Unlock          monitor-enter / monitor-exit
//	defer mu.Unlock()                    monitor-exit where defers run
//	anything else                        invoke, load, store, or opaque op
//
// A monitor-enter always sits alone in its block and a monitor-exit ends its
// block, so the synchronized extractor sees the shape it expects.
package lower

import (
	"errors"
	"fmt"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/mpyw/regionize/internal/ir"
)

// ErrUnsupported is returned for functions without a body or with SSA the
// translator cannot represent.
var ErrUnsupported = errors.New("unsupported function")

// =============================================================================
// Entry Point
// =============================================================================

// Function lowers fn into a method.
func Function(fn *ssa.Function) (m *ir.Method, err error) {
	if fn == nil || len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("%w: %v has no body", ErrUnsupported, fn)
	}
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, fn, r)
		}
	}()

	l := newLowerer(fn)
	l.findSwitches()
	l.findDeferredReleases()
	l.findWraps()
	l.findCoalescing()
	for _, b := range fn.Blocks {
		if !l.skip[b] {
			l.lowerBlock(b)
		}
	}
	l.m.SetEntry(l.first[fn.Blocks[0]])
	l.connect()
	l.placeMoves()
	for _, b := range l.m.Blocks() {
		if b.Len() == 0 {
			b.Add(ir.FlagSynthetic)
		}
	}
	return l.m, nil
}

type lowerer struct {
	fn *ssa.Function
	m  *ir.Method

	regs    map[ssa.Value]ir.Reg
	nextReg int

	wrapped   map[ssa.Value]bool
	pending   map[ssa.Value]*ir.Instr
	coalesced map[ssa.Value]*ssa.Phi

	switches map[*ssa.BasicBlock]*intSwitch
	absorbed map[ssa.Instruction]bool
	skip     map[*ssa.BasicBlock]bool
	owner    map[*ssa.BasicBlock]*ssa.BasicBlock // chain block → switch start

	defers      []deferredRelease
	otherDefers bool

	first map[*ssa.BasicBlock]*ir.Block
	last  map[*ssa.BasicBlock]*ir.Block
}

func newLowerer(fn *ssa.Function) *lowerer {
	return &lowerer{
		fn:        fn,
		m:         ir.NewMethod(fn.String()),
		regs:      make(map[ssa.Value]ir.Reg),
		wrapped:   make(map[ssa.Value]bool),
		pending:   make(map[ssa.Value]*ir.Instr),
		coalesced: make(map[ssa.Value]*ssa.Phi),
		switches:  make(map[*ssa.BasicBlock]*intSwitch),
		absorbed:  make(map[ssa.Instruction]bool),
		skip:      make(map[*ssa.BasicBlock]bool),
		owner:     make(map[*ssa.BasicBlock]*ssa.BasicBlock),
		first:     make(map[*ssa.BasicBlock]*ir.Block),
		last:      make(map[*ssa.BasicBlock]*ir.Block),
	}
}

// =============================================================================
// Blocks
// =============================================================================

func (l *lowerer) lowerBlock(b *ssa.BasicBlock) {
	cur := l.m.NewBlock()
	l.first[b] = cur

	// split ends cur and continues in a fresh block.
	split := func() {
		next := l.m.NewBlock()
		l.m.Connect(cur, ir.EdgeFallthrough, next)
		cur = next
	}

	// release runs the deferred unlocks due at instr. They share the block
	// of the return or panic that follows, so no edge leaves a release.
	release := func(instr ssa.Instruction) {
		for _, lock := range l.releasesAt(instr) {
			cur.Append(ir.NewMonitorExit(ir.Lit(lock)))
		}
	}

	for _, instr := range b.Instrs {
		if l.absorbed[instr] {
			continue
		}
		switch v := instr.(type) {
		case *ssa.Phi, *ssa.DebugRef, *ssa.Jump:
		case *ssa.If:
			cur.Append(ir.NewIf(l.arg(v.Cond)))
		case *ssa.Return:
			args := make([]ir.Arg, 0, len(v.Results))
			for _, r := range v.Results {
				args = append(args, l.arg(r))
			}
			cur.Append(ir.NewReturn(args...))
			cur.Add(ir.FlagReturn)
		case *ssa.Panic:
			release(v)
			cur.Append(ir.NewThrow(l.arg(v.X)))
		case *ssa.RunDefers:
			if l.otherDefers {
				l.emit(cur, v, l.instr(v))
			}
			release(v)
		case *ssa.Call:
			switch monitorOf(v.Common()) {
			case monitorEnter:
				if cur.Len() > 0 {
					split()
				}
				cur.Append(ir.NewMonitorEnter(ir.Lit(lockKey(v.Call.Args[0]))))
				split()
			case monitorExit:
				cur.Append(ir.NewMonitorExit(ir.Lit(lockKey(v.Call.Args[0]))))
				split()
			default:
				l.emit(cur, v, l.call(v))
			}
		default:
			l.emit(cur, instr, l.instr(instr))
		}
	}
	if sw := l.switches[b]; sw != nil {
		cur.Append(ir.NewSwitch(l.arg(sw.x)))
	}
	l.last[b] = cur
}

// emit appends insn, or holds it for its consumer when instr is wrapped.
func (l *lowerer) emit(cur *ir.Block, instr ssa.Instruction, insn *ir.Instr) {
	if v, ok := instr.(ssa.Value); ok && l.wrapped[v] {
		l.pending[v] = insn
		return
	}
	cur.Append(insn)
}

// connect adds the CFG edges.
func (l *lowerer) connect() {
	for _, b := range l.fn.Blocks {
		if l.skip[b] {
			continue
		}
		from := l.last[b]
		if sw := l.switches[b]; sw != nil {
			for _, c := range sw.cases {
				l.m.ConnectCase(from, c.value, l.first[c.body])
			}
			l.m.Connect(from, ir.EdgeFallthrough, l.first[sw.dflt])
			continue
		}
		switch b.Instrs[len(b.Instrs)-1].(type) {
		case *ssa.If:
			l.m.Connect(from, ir.EdgeTrue, l.first[b.Succs[0]])
			l.m.Connect(from, ir.EdgeFalse, l.first[b.Succs[1]])
		case *ssa.Jump:
			l.m.Connect(from, ir.EdgeFallthrough, l.first[b.Succs[0]])
		}
	}
}

// =============================================================================
// Instructions
// =============================================================================

var arithOps = map[string]ir.ArithOp{
	"+": ir.Add, "-": ir.Sub, "*": ir.Mul, "/": ir.Div, "%": ir.Rem,
	"&": ir.And, "|": ir.Or, "^": ir.Xor, "<<": ir.Shl, ">>": ir.Shr, "&^": ir.AndNot,
}

var cmpOps = map[string]ir.CmpOp{
	"==": ir.Eq, "!=": ir.Ne, "<": ir.Lt, "<=": ir.Le, ">": ir.Gt, ">=": ir.Ge,
}

func (l *lowerer) instr(instr ssa.Instruction) *ir.Instr {
	switch v := instr.(type) {
	case *ssa.BinOp:
		x, y := l.arg(v.X), l.arg(v.Y)
		if op, ok := arithOps[v.Op.String()]; ok {
			return ir.NewArith(op, l.reg(v), x, y)
		}
		if op, ok := cmpOps[v.Op.String()]; ok {
			insn := ir.NewCompare(op, x, y)
			r := l.reg(v)
			insn.Result = &r
			return insn
		}
	case *ssa.UnOp:
		switch v.Op.String() {
		case "*":
			return ir.NewLoad(l.reg(v), l.arg(v.X))
		case "<-":
			r := l.reg(v)
			return ir.NewOther(v.String(), &r, l.arg(v.X))
		}
		r := l.reg(v)
		return ir.NewUnary(v.Op.String(), &r, l.arg(v.X))
	case *ssa.Convert:
		r := l.reg(v)
		return ir.NewInvoke(l.typeName(v.Type()), &r, l.arg(v.X))
	case *ssa.ChangeType:
		r := l.reg(v)
		return ir.NewInvoke(l.typeName(v.Type()), &r, l.arg(v.X))
	case *ssa.Store:
		return ir.NewStore(l.arg(v.Addr), l.arg(v.Val))
	}
	return l.opaque(instr)
}

// opaque renders instr by its SSA text while keeping its register operands.
func (l *lowerer) opaque(instr ssa.Instruction) *ir.Instr {
	var args []ir.Arg
	for _, rand := range instr.Operands(nil) {
		if rand != nil && *rand != nil {
			args = append(args, l.arg(*rand))
		}
	}
	var res *ir.Reg
	if v, ok := instr.(ssa.Value); ok && hasResult(v) {
		r := l.reg(v)
		res = &r
	}
	return ir.NewOther(instr.String(), res, args...)
}

func (l *lowerer) call(c *ssa.Call) *ir.Instr {
	common := c.Common()
	var args []ir.Arg
	name := ""
	switch {
	case common.IsInvoke():
		name = common.Method.Name()
		args = append(args, l.arg(common.Value))
	case common.StaticCallee() != nil:
		name = common.StaticCallee().Name()
	case isBuiltin(common.Value):
		name = common.Value.Name()
	default:
		name = "call"
		args = append(args, l.arg(common.Value))
	}
	for _, a := range common.Args {
		args = append(args, l.arg(a))
	}
	var res *ir.Reg
	if hasResult(c) {
		r := l.reg(c)
		res = &r
	}
	return ir.NewInvoke(name, res, args...)
}

func hasResult(v ssa.Value) bool {
	if t, ok := v.Type().(*types.Tuple); ok {
		return t.Len() > 0
	}
	return true
}

func (l *lowerer) typeName(t types.Type) string {
	var pkg *types.Package
	if l.fn.Pkg != nil {
		pkg = l.fn.Pkg.Pkg
	}
	return types.TypeString(t, types.RelativeTo(pkg))
}

func isBuiltin(v ssa.Value) bool {
	_, ok := v.(*ssa.Builtin)
	return ok
}
