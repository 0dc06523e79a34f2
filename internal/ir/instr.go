// Package ir provides the instruction and basic-block model consumed by the
// structuring passes.
//
// # Model
//
//	Method ──owns──▶ []*Block ──owns──▶ []*Instr ──owns──▶ []Arg
//	                    │                                   │
//	                    └── succs []Edge / preds []*Block    └── Reg | Lit | Wrap(*Instr)
//
// A wrapped instruction is an expression used as an operand of exactly one
// other instruction. Ownership is structural: the wrapped *Instr lives inside
// its consumer's Arg and nowhere else, so it cannot be reached from a block's
// instruction list.
package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// =============================================================================
// Opcodes
// =============================================================================

// Op is the tag of an instruction.
type Op uint8

const (
	OpNop Op = iota
	OpConst
	OpMove
	OpArith
	OpCompare
	OpUnary
	OpInvoke
	OpConstructor
	OpMonitorEnter
	OpMonitorExit
	OpIf
	OpSwitch
	OpReturn
	OpThrow
	OpTernary
	OpStore
	OpLoad
	OpOther
	// OpBreak, OpContinue and OpGoto are inserted by the region builder where
	// a structured walk would otherwise lose an edge.
	OpBreak
	OpContinue
	OpGoto
)

var opNames = [...]string{
	OpNop:          "nop",
	OpConst:        "const",
	OpMove:         "move",
	OpArith:        "arith",
	OpCompare:      "cmp",
	OpUnary:        "unary",
	OpInvoke:       "invoke",
	OpConstructor:  "constructor",
	OpMonitorEnter: "monitor-enter",
	OpMonitorExit:  "monitor-exit",
	OpIf:           "if",
	OpSwitch:       "switch",
	OpReturn:       "return",
	OpThrow:        "throw",
	OpTernary:      "ternary",
	OpStore:        "store",
	OpLoad:         "load",
	OpOther:        "other",
	OpBreak:        "break",
	OpContinue:     "continue",
	OpGoto:         "goto",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// IsControl reports whether the op ends a block and decides its successors.
func (o Op) IsControl() bool {
	switch o {
	case OpIf, OpSwitch, OpReturn, OpThrow, OpBreak, OpContinue, OpGoto:
		return true
	}
	return false
}

// ArithOp is the operator of an OpArith instruction.
type ArithOp uint8

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	AndNot
)

var arithSymbols = [...]string{
	Add: "+", Sub: "-", Mul: "*", Div: "/", Rem: "%",
	And: "&", Or: "|", Xor: "^", Shl: "<<", Shr: ">>", AndNot: "&^",
}

func (a ArithOp) String() string { return arithSymbols[a] }

// CmpOp is the operator of an OpCompare instruction.
type CmpOp uint8

const (
	Eq CmpOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

var cmpSymbols = [...]string{Eq: "==", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">="}

func (c CmpOp) String() string { return cmpSymbols[c] }

// Negate returns the operator testing the opposite outcome.
func (c CmpOp) Negate() CmpOp {
	switch c {
	case Eq:
		return Ne
	case Ne:
		return Eq
	case Lt:
		return Ge
	case Le:
		return Gt
	case Gt:
		return Le
	default:
		return Lt
	}
}

// =============================================================================
// Arguments
// =============================================================================

// Reg is a virtual register.
type Reg struct {
	Num  int
	Name string
}

func (r Reg) String() string {
	if r.Name != "" {
		return r.Name
	}
	return "r" + strconv.Itoa(r.Num)
}

// ArgKind discriminates Arg variants.
type ArgKind uint8

const (
	ArgNone ArgKind = iota
	ArgReg
	ArgLit
	ArgWrap
)

// Arg is an instruction operand: a register, an immediate literal, or a
// wrapped instruction owned by this operand.
type Arg struct {
	Kind  ArgKind
	Reg   Reg
	Lit   string
	Int   int64
	IsInt bool
	Insn  *Instr
}

// RegArg returns a register operand.
func RegArg(r Reg) Arg { return Arg{Kind: ArgReg, Reg: r} }

// IntLit returns an integer literal operand.
func IntLit(v int64) Arg {
	return Arg{Kind: ArgLit, Lit: strconv.FormatInt(v, 10), Int: v, IsInt: true}
}

// Lit returns an opaque literal operand (strings, symbols, nil, ...).
func Lit(text string) Arg { return Arg{Kind: ArgLit, Lit: text} }

// Wrap makes insn an operand expression. The returned Arg becomes the only
// owner of insn; wrapping the same instruction twice panics.
func Wrap(insn *Instr) Arg {
	if insn.wrapped {
		panic(fmt.Sprintf("ir: instruction %q already has a consumer", insn))
	}
	insn.wrapped = true
	return Arg{Kind: ArgWrap, Insn: insn}
}

// IsReg reports whether the operand reads register r.
func (a Arg) IsReg(r Reg) bool { return a.Kind == ArgReg && a.Reg.Num == r.Num }

// SameAs reports whether two non-wrapped operands denote the same value.
func (a Arg) SameAs(b Arg) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ArgReg:
		return a.Reg.Num == b.Reg.Num
	case ArgLit:
		return a.Lit == b.Lit
	}
	return false
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgReg:
		return a.Reg.String()
	case ArgLit:
		return a.Lit
	case ArgWrap:
		if a.Insn.Has(DontWrap) {
			return a.Insn.expr()
		}
		return "(" + a.Insn.expr() + ")"
	}
	return "_"
}

// =============================================================================
// Instructions
// =============================================================================

// InsnFlag is a per-instruction attribute.
type InsnFlag uint8

const (
	// DontWrap suppresses parentheses around a wrapped expression.
	DontWrap InsnFlag = 1 << iota
	// DontGenerate marks an instruction rendered through its region instead
	// (loop init/increment).
	DontGenerate
	// Increment marks a compound assignment by one (x++ / x--).
	Increment
)

// Instr is a single typed instruction.
type Instr struct {
	Op     Op
	Arith  ArithOp
	Cmp    CmpOp
	Args   []Arg
	Result *Reg

	// Callee names the invoked method for OpInvoke and OpConstructor.
	Callee string
	// Text is the rendering of OpOther instructions.
	Text string
	// SelfCall marks a constructor delegation already implied by the target
	// language (e.g. the implicit super()).
	SelfCall bool
	// Compound marks an OpArith rendered as "x op= y".
	Compound bool
	// Target is the block a jump transfers to; Text holds its label, if any.
	Target *Block

	flags   InsnFlag
	wrapped bool
}

// Has reports whether the flag is set.
func (i *Instr) Has(f InsnFlag) bool { return i.flags&f != 0 }

// Add sets a flag.
func (i *Instr) Add(f InsnFlag) { i.flags |= f }

// Flags returns the raw flag set.
func (i *Instr) Flags() InsnFlag { return i.flags }

// IsWrapped reports whether the instruction is owned by an operand.
func (i *Instr) IsWrapped() bool { return i.wrapped }

// Arg returns the n-th operand or the zero Arg.
func (i *Instr) Arg(n int) Arg {
	if n < len(i.Args) {
		return i.Args[n]
	}
	return Arg{}
}

// Writes reports whether the instruction assigns register r.
func (i *Instr) Writes(r Reg) bool { return i.Result != nil && i.Result.Num == r.Num }

// Reads reports whether register r is read by the instruction or any of its
// wrapped operands.
func (i *Instr) Reads(r Reg) bool {
	found := false
	Walk(i, func(in *Instr) {
		for _, a := range in.Args {
			if a.IsReg(r) {
				found = true
			}
		}
	})
	return found
}

// Walk visits insn and its wrapped operands depth first (consumer first).
func Walk(insn *Instr, fn func(*Instr)) {
	fn(insn)
	for _, a := range insn.Args {
		if a.Kind == ArgWrap {
			Walk(a.Insn, fn)
		}
	}
}

// Clone returns a copy of the instruction that is not wrapped by anyone.
// Wrapped operands are shared, so the clone takes them over and the original
// must be discarded.
func (i *Instr) Clone() *Instr {
	c := *i
	c.Args = slices.Clone(i.Args)
	if i.Result != nil {
		r := *i.Result
		c.Result = &r
	}
	c.wrapped = false
	return &c
}

func (i *Instr) String() string {
	if i.Result != nil && i.Op != OpIf && i.Op != OpSwitch && !i.Compound {
		return i.Result.String() + " = " + i.expr()
	}
	return i.expr()
}

// expr renders the instruction without its result assignment.
func (i *Instr) expr() string {
	switch i.Op {
	case OpConst, OpMove:
		return i.Arg(0).String()
	case OpArith:
		if i.Has(Increment) {
			if i.Arith == Sub {
				return i.Arg(0).String() + "--"
			}
			return i.Arg(0).String() + "++"
		}
		if i.Compound {
			return i.Arg(0).String() + " " + i.Arith.String() + "= " + i.Arg(1).String()
		}
		return i.Arg(0).String() + " " + i.Arith.String() + " " + i.Arg(1).String()
	case OpCompare:
		return i.Arg(0).String() + " " + i.Cmp.String() + " " + i.Arg(1).String()
	case OpUnary:
		return i.Text + i.Arg(0).String()
	case OpInvoke, OpConstructor:
		return i.Callee + "(" + joinArgs(i.Args) + ")"
	case OpIf:
		return "if " + i.Arg(0).String()
	case OpSwitch:
		return "switch " + i.Arg(0).String()
	case OpReturn:
		if len(i.Args) == 0 {
			return "return"
		}
		return "return " + joinArgs(i.Args)
	case OpThrow:
		return "throw " + i.Arg(0).String()
	case OpTernary:
		return i.Arg(0).String() + " ? " + i.Arg(1).String() + " : " + i.Arg(2).String()
	case OpStore:
		return "*" + i.Arg(0).String() + " <- " + i.Arg(1).String()
	case OpLoad:
		return "*" + i.Arg(0).String()
	case OpBreak, OpContinue:
		if i.Text == "" {
			return i.Op.String()
		}
		return i.Op.String() + " " + i.Text
	case OpGoto:
		return "goto " + i.Target.String()
	case OpMonitorEnter, OpMonitorExit, OpNop:
		return i.Op.String() + "(" + joinArgs(i.Args) + ")"
	}
	if i.Text != "" {
		return i.Text
	}
	return i.Op.String() + "(" + joinArgs(i.Args) + ")"
}

func joinArgs(args []Arg) string {
	parts := make([]string, len(args))
	for n, a := range args {
		parts[n] = a.String()
	}
	return strings.Join(parts, ", ")
}

// =============================================================================
// Constructors
// =============================================================================

func result(r Reg) *Reg { return &r }

// NewNop returns a no-op.
func NewNop() *Instr { return &Instr{Op: OpNop} }

// NewConst assigns a literal to res.
func NewConst(res Reg, lit Arg) *Instr {
	return &Instr{Op: OpConst, Args: []Arg{lit}, Result: result(res)}
}

// NewMove copies src into res.
func NewMove(res Reg, src Arg) *Instr {
	return &Instr{Op: OpMove, Args: []Arg{src}, Result: result(res)}
}

// NewArith computes res = x op y.
func NewArith(op ArithOp, res Reg, x, y Arg) *Instr {
	return &Instr{Op: OpArith, Arith: op, Args: []Arg{x, y}, Result: result(res)}
}

// NewCompare computes x op y. Comparisons are usually wrapped into an OpIf.
func NewCompare(op CmpOp, x, y Arg) *Instr {
	return &Instr{Op: OpCompare, Cmp: op, Args: []Arg{x, y}}
}

// NewUnary computes res = op x, with op rendered as a prefix.
func NewUnary(op string, res *Reg, x Arg) *Instr {
	return &Instr{Op: OpUnary, Text: op, Args: []Arg{x}, Result: res}
}

// NewIf branches on cond: the true edge is taken when cond holds.
func NewIf(cond Arg) *Instr { return &Instr{Op: OpIf, Args: []Arg{cond}} }

// NewSwitch dispatches on the value of x through case edges.
func NewSwitch(x Arg) *Instr { return &Instr{Op: OpSwitch, Args: []Arg{x}} }

// NewInvoke calls callee; res may be nil.
func NewInvoke(callee string, res *Reg, args ...Arg) *Instr {
	return &Instr{Op: OpInvoke, Callee: callee, Args: args, Result: res}
}

// NewConstructor calls a constructor. self marks a delegation implied by the
// target language.
func NewConstructor(callee string, self bool, args ...Arg) *Instr {
	return &Instr{Op: OpConstructor, Callee: callee, SelfCall: self, Args: args}
}

// NewMonitorEnter acquires lock.
func NewMonitorEnter(lock Arg) *Instr { return &Instr{Op: OpMonitorEnter, Args: []Arg{lock}} }

// NewMonitorExit releases lock.
func NewMonitorExit(lock Arg) *Instr { return &Instr{Op: OpMonitorExit, Args: []Arg{lock}} }

// NewReturn returns from the method.
func NewReturn(values ...Arg) *Instr { return &Instr{Op: OpReturn, Args: values} }

// NewThrow raises x.
func NewThrow(x Arg) *Instr { return &Instr{Op: OpThrow, Args: []Arg{x}} }

// NewTernary computes res = cond ? a : b.
func NewTernary(res Reg, cond, a, b Arg) *Instr {
	return &Instr{Op: OpTernary, Args: []Arg{cond, a, b}, Result: result(res)}
}

// NewStore writes val through addr.
func NewStore(addr, val Arg) *Instr { return &Instr{Op: OpStore, Args: []Arg{addr, val}} }

// NewLoad reads through addr into res.
func NewLoad(res Reg, addr Arg) *Instr {
	return &Instr{Op: OpLoad, Args: []Arg{addr}, Result: result(res)}
}

// NewOther is an instruction the passes treat as opaque.
func NewOther(text string, res *Reg, args ...Arg) *Instr {
	return &Instr{Op: OpOther, Text: text, Args: args, Result: res}
}

// NewBreak leaves the enclosing loop or switch, or the one labeled label.
func NewBreak(label string, target *Block) *Instr {
	return &Instr{Op: OpBreak, Text: label, Target: target}
}

// NewContinue starts the next iteration of the enclosing loop, or of the one
// labeled label.
func NewContinue(label string, target *Block) *Instr {
	return &Instr{Op: OpContinue, Text: label, Target: target}
}

// NewGoto jumps to target, which is rendered with a label.
func NewGoto(target *Block) *Instr { return &Instr{Op: OpGoto, Target: target} }
