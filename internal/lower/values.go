package lower

import (
	"go/constant"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/mpyw/regionize/internal/ir"
)

// =============================================================================
// Registers and Operands
// =============================================================================

// reg returns the register of v. Coalesced values write their phi's register.
func (l *lowerer) reg(v ssa.Value) ir.Reg {
	if p, ok := l.coalesced[v]; ok {
		return l.reg(p)
	}
	if r, ok := l.regs[v]; ok {
		return r
	}
	r := ir.Reg{Num: l.nextReg, Name: regName(v)}
	l.nextReg++
	l.regs[v] = r
	return r
}

// temp returns a register no SSA value owns.
func (l *lowerer) temp() ir.Reg {
	r := ir.Reg{Num: l.nextReg}
	l.nextReg++
	return r
}

func regName(v ssa.Value) string {
	if p, ok := v.(*ssa.Phi); ok && p.Comment != "" {
		return p.Comment
	}
	return v.Name()
}

// arg returns the operand reading v. A wrapped value is handed over to its
// consumer on first use.
func (l *lowerer) arg(v ssa.Value) ir.Arg {
	switch v := v.(type) {
	case *ssa.Const:
		return constArg(v)
	case *ssa.Function, *ssa.Builtin, *ssa.Global:
		return ir.Lit(v.Name())
	}
	if insn, ok := l.pending[v]; ok {
		delete(l.pending, v)
		return ir.Wrap(insn)
	}
	return ir.RegArg(l.reg(v))
}

func constArg(c *ssa.Const) ir.Arg {
	if c.Value == nil {
		return ir.Lit("nil")
	}
	if c.Value.Kind() == constant.Int {
		if n, exact := constant.Int64Val(c.Value); exact {
			return ir.IntLit(n)
		}
	}
	return ir.Lit(c.Value.ExactString())
}

// constInt returns the exact int64 value of an integer constant.
func constInt(c *ssa.Const) (int64, bool) {
	if c == nil || c.Value == nil || c.Value.Kind() != constant.Int {
		return 0, false
	}
	return constant.Int64Val(c.Value)
}

// =============================================================================
// Wrapping
// =============================================================================

// findWraps marks single-use pure values consumed later in their own block.
func (l *lowerer) findWraps() {
	for _, b := range l.fn.Blocks {
		for i, instr := range b.Instrs {
			v, ok := instr.(ssa.Value)
			if !ok || !wrappable(instr) || l.absorbed[instr] {
				continue
			}
			refs := uses(v)
			if len(refs) != 1 {
				continue
			}
			r := refs[0]
			if _, phi := r.(*ssa.Phi); phi || r.Block() != b || l.absorbed[r] {
				continue
			}
			if indexOf(b, r) <= i || countOperand(r, v) != 1 {
				continue
			}
			l.wrapped[v] = true
		}
	}
}

func wrappable(instr ssa.Instruction) bool {
	switch v := instr.(type) {
	case *ssa.BinOp, *ssa.Convert, *ssa.ChangeType:
		return true
	case *ssa.UnOp:
		s := v.Op.String()
		return s != "*" && s != "<-"
	}
	return false
}

// uses returns the referrers of v, ignoring debug references.
func uses(v ssa.Value) []ssa.Instruction {
	refs := v.Referrers()
	if refs == nil {
		return nil
	}
	out := make([]ssa.Instruction, 0, len(*refs))
	for _, r := range *refs {
		if _, dbg := r.(*ssa.DebugRef); !dbg {
			out = append(out, r)
		}
	}
	return out
}

func indexOf(b *ssa.BasicBlock, instr ssa.Instruction) int {
	for i, x := range b.Instrs {
		if x == instr {
			return i
		}
	}
	return -1
}

func countOperand(instr ssa.Instruction, v ssa.Value) int {
	n := 0
	for _, rand := range instr.Operands(nil) {
		if rand != nil && *rand == v {
			n++
		}
	}
	return n
}

// =============================================================================
// Monitors
// =============================================================================

type monitorKind uint8

const (
	monitorNone monitorKind = iota
	monitorEnter
	monitorExit
)

// monitorOf recognizes calls to the sync.Mutex and sync.RWMutex lock methods.
func monitorOf(c *ssa.CallCommon) monitorKind {
	if c.IsInvoke() || len(c.Args) == 0 {
		return monitorNone
	}
	callee := c.StaticCallee()
	if callee == nil {
		return monitorNone
	}
	obj, ok := callee.Object().(*types.Func)
	if !ok || obj.Pkg() == nil || obj.Pkg().Path() != "sync" {
		return monitorNone
	}
	sig, ok := obj.Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return monitorNone
	}
	recv := sig.Recv().Type()
	if ptr, ok := recv.(*types.Pointer); ok {
		recv = ptr.Elem()
	}
	named, ok := types.Unalias(recv).(*types.Named)
	if !ok {
		return monitorNone
	}
	switch named.Obj().Name() {
	case "Mutex", "RWMutex":
	default:
		return monitorNone
	}
	switch obj.Name() {
	case "Lock", "RLock":
		return monitorEnter
	case "Unlock", "RUnlock":
		return monitorExit
	}
	return monitorNone
}

// deferredRelease is a `defer mu.Unlock()` lowered as a monitor-exit at every
// point where deferred calls run.
type deferredRelease struct {
	at   *ssa.Defer
	lock string
}

// findDeferredReleases absorbs deferred unlocks registered once per call.
// A defer inside a loop stays an opaque instruction.
func (l *lowerer) findDeferredReleases() {
	for _, b := range l.fn.Blocks {
		for _, instr := range b.Instrs {
			d, ok := instr.(*ssa.Defer)
			if !ok {
				continue
			}
			if monitorOf(d.Common()) != monitorExit || inCycle(b) {
				l.otherDefers = true
				continue
			}
			l.absorbed[d] = true
			l.defers = append(l.defers, deferredRelease{at: d, lock: lockKey(d.Call.Args[0])})
		}
	}
}

// releasesAt returns the locks whose deferred release is registered on every
// path to site, most recent first.
func (l *lowerer) releasesAt(site ssa.Instruction) []string {
	var out []string
	for i := len(l.defers) - 1; i >= 0; i-- {
		d := l.defers[i]
		db, sb := d.at.Block(), site.Block()
		if db == sb && indexOf(db, d.at) < indexOf(sb, site) || db != sb && db.Dominates(sb) {
			out = append(out, d.lock)
		}
	}
	return out
}

// inCycle reports whether b can reach itself.
func inCycle(b *ssa.BasicBlock) bool {
	seen := make(map[*ssa.BasicBlock]bool)
	queue := append([]*ssa.BasicBlock(nil), b.Succs...)
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		if x == b {
			return true
		}
		if seen[x] {
			continue
		}
		seen[x] = true
		queue = append(queue, x.Succs...)
	}
	return false
}

// lockKey canonicalizes the address of a lock so that every acquire and
// release of the same field or variable renders identically.
func lockKey(v ssa.Value) string {
	switch v := v.(type) {
	case *ssa.FieldAddr:
		return lockKey(v.X) + "." + fieldName(v.X.Type(), v.Field)
	case *ssa.Field:
		return lockKey(v.X) + "." + fieldName(v.X.Type(), v.Field)
	case *ssa.UnOp:
		if v.Op.String() == "*" {
			return lockKey(v.X)
		}
	case *ssa.Global:
		return v.Name()
	case *ssa.Alloc:
		if v.Comment != "" {
			return v.Comment
		}
	}
	return v.Name()
}

func fieldName(t types.Type, i int) string {
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	if st, ok := t.Underlying().(*types.Struct); ok && i < st.NumFields() {
		return st.Field(i).Name()
	}
	return "?"
}
