package vm

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a bytecode instruction.
type Opcode byte

// Register moves and constant loads
const (
	OpNop       Opcode = 0x00 // no operation
	OpMov       Opcode = 0x01 // r[a] = r[b]
	OpLoadConst Opcode = 0x02 // r[a] = consts[bx]
	OpLoadSmi   Opcode = 0x03 // r[a] = sbx (small integer immediate)
	OpLoadNone  Opcode = 0x04 // r[a] = none
	OpLoadTrue  Opcode = 0x05 // r[a] = true
	OpLoadFalse Opcode = 0x06 // r[a] = false
)

// Variable access
const (
	OpLoadGlobal   Opcode = 0x10 // r[a] = globals[consts[bx]]
	OpStoreGlobal  Opcode = 0x11 // globals[consts[bx]] = r[a]
	OpLoadUpvalue  Opcode = 0x12 // r[a] = contents of cell upvals[b]
	OpStoreUpvalue Opcode = 0x13 // cell upvals[b] = r[a]
	OpLoadField    Opcode = 0x14 // r[a] = r[b].consts[c]
	OpStoreField   Opcode = 0x15 // r[b].consts[c] = r[a]
	OpLoadIndex    Opcode = 0x16 // r[a] = r[b][r[c]]
	OpStoreIndex   Opcode = 0x17 // r[a][r[b]] = r[c]
)

// Object construction
const (
	OpMakeList    Opcode = 0x20 // r[a] = [r[b] .. r[b+c-1]]
	OpMakeDict    Opcode = 0x21 // r[a] = {r[b]: r[b+1], ...} (c pairs)
	OpMakeClosure Opcode = 0x22 // r[a] = closure of consts[bx], capturing upvalues
	OpMakeClass   Opcode = 0x23 // r[a] = class from consts[bx]; parent pre-loaded in r[a]
	OpMakeCell    Opcode = 0x24 // r[a] = new cell holding r[a]
	OpLoadCell    Opcode = 0x25 // r[a] = contents of cell r[b]
	OpStoreCell   Opcode = 0x26 // cell r[b] = r[a]
)

// Arithmetic and logic
const (
	OpAdd Opcode = 0x30 // r[a] = r[b] + r[c]
	OpSub Opcode = 0x31 // r[a] = r[b] - r[c]
	OpMul Opcode = 0x32 // r[a] = r[b] * r[c]
	OpDiv Opcode = 0x33 // r[a] = r[b] / r[c]
	OpMod Opcode = 0x34 // r[a] = r[b] % r[c]
	OpPow Opcode = 0x35 // r[a] = r[b] ** r[c]
	OpNeg Opcode = 0x36 // r[a] = -r[b]
	OpNot Opcode = 0x37 // r[a] = not r[b]
)

// Comparison
const (
	OpCmpEq Opcode = 0x40 // r[a] = r[b] == r[c]
	OpCmpNe Opcode = 0x41 // r[a] = r[b] != r[c]
	OpCmpLt Opcode = 0x42 // r[a] = r[b] < r[c]
	OpCmpLe Opcode = 0x43 // r[a] = r[b] <= r[c]
	OpCmpGt Opcode = 0x44 // r[a] = r[b] > r[c]
	OpCmpGe Opcode = 0x45 // r[a] = r[b] >= r[c]
)

// Control flow
const (
	OpJump        Opcode = 0x50 // ip += sbx
	OpJumpIfFalse Opcode = 0x51 // if !truthy(r[a]) ip += sbx
	OpJumpIfTrue  Opcode = 0x52 // if truthy(r[a]) ip += sbx
	OpCall        Opcode = 0x53 // r[a] = r[a](r[a+1] .. r[a+b])
	OpReturn      Opcode = 0x54 // return r[a]
	OpReturnNone  Opcode = 0x55 // return none
)

// Error handling
const (
	OpTryPush Opcode = 0x60 // push handler: error lands in r[a], ip = here+1+sbx
	OpTryPop  Opcode = 0x61 // pop innermost handler
	OpRaise   Opcode = 0x62 // raise r[a]
)

// Iteration, async, output
const (
	OpIter        Opcode = 0x70 // r[a] = iterator over r[b]
	OpIterHasNext Opcode = 0x71 // r[a] = iterator r[b] has a next element
	OpIterNext    Opcode = 0x72 // r[a] = next element of iterator r[b]
	OpAwait       Opcode = 0x73 // r[a] = result of awaiting r[b]
	OpPrint       Opcode = 0x74 // print r[a]
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandFormat describes how an instruction's operand fields are used.
type OperandFormat int

const (
	FmtNone OperandFormat = iota
	FmtA                  // a
	FmtAB                 // a, b
	FmtABC                // a, b, c
	FmtABx                // a, bx
	FmtASBx               // a, sbx
	FmtSBx                // sbx
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string        // mnemonic, as printed by the disassembler
	Format   OperandFormat // operand layout
	ConstRef bool          // bx or c indexes the constant pool
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"nop", FmtNone, false},
	OpMov:       {"mov", FmtAB, false},
	OpLoadConst: {"load_const", FmtABx, true},
	OpLoadSmi:   {"load_smi", FmtASBx, false},
	OpLoadNone:  {"load_none", FmtA, false},
	OpLoadTrue:  {"load_true", FmtA, false},
	OpLoadFalse: {"load_false", FmtA, false},

	OpLoadGlobal:   {"load_global", FmtABx, true},
	OpStoreGlobal:  {"store_global", FmtABx, true},
	OpLoadUpvalue:  {"load_upvalue", FmtAB, false},
	OpStoreUpvalue: {"store_upvalue", FmtAB, false},
	OpLoadField:    {"load_field", FmtABC, true},
	OpStoreField:   {"store_field", FmtABC, true},
	OpLoadIndex:    {"load_index", FmtABC, false},
	OpStoreIndex:   {"store_index", FmtABC, false},

	OpMakeList:    {"make_list", FmtABC, false},
	OpMakeDict:    {"make_dict", FmtABC, false},
	OpMakeClosure: {"make_closure", FmtABx, true},
	OpMakeClass:   {"make_class", FmtABx, true},
	OpMakeCell:    {"make_cell", FmtA, false},
	OpLoadCell:    {"load_cell", FmtAB, false},
	OpStoreCell:   {"store_cell", FmtAB, false},

	OpAdd: {"add", FmtABC, false},
	OpSub: {"sub", FmtABC, false},
	OpMul: {"mul", FmtABC, false},
	OpDiv: {"div", FmtABC, false},
	OpMod: {"mod", FmtABC, false},
	OpPow: {"pow", FmtABC, false},
	OpNeg: {"neg", FmtAB, false},
	OpNot: {"not", FmtAB, false},

	OpCmpEq: {"cmp_eq", FmtABC, false},
	OpCmpNe: {"cmp_ne", FmtABC, false},
	OpCmpLt: {"cmp_lt", FmtABC, false},
	OpCmpLe: {"cmp_le", FmtABC, false},
	OpCmpGt: {"cmp_gt", FmtABC, false},
	OpCmpGe: {"cmp_ge", FmtABC, false},

	OpJump:        {"jump", FmtSBx, false},
	OpJumpIfFalse: {"jump_if_false", FmtASBx, false},
	OpJumpIfTrue:  {"jump_if_true", FmtASBx, false},
	OpCall:        {"call", FmtAB, false},
	OpReturn:      {"ret", FmtA, false},
	OpReturnNone:  {"ret_none", FmtNone, false},

	OpTryPush: {"try_push", FmtASBx, false},
	OpTryPop:  {"try_pop", FmtNone, false},
	OpRaise:   {"raise", FmtA, false},

	OpIter:        {"iter", FmtAB, false},
	OpIterHasNext: {"iter_has_next", FmtAB, false},
	OpIterNext:    {"iter_next", FmtAB, false},
	OpAwait:       {"await", FmtAB, false},
	OpPrint:       {"print", FmtA, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op)), Format: FmtNone}
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// Instruction encoding
// ---------------------------------------------------------------------------

// Instr is one fixed-width instruction: op in the low byte, then the
// a, b and c operand bytes. bx overlays b and c as an unsigned 16-bit
// field; sbx is the same field interpreted as signed. Jump offsets are
// in instructions, relative to the instruction after the jump.
type Instr uint32

// MakeABC encodes an instruction with three register operands.
func MakeABC(op Opcode, a, b, c uint8) Instr {
	return Instr(uint32(op) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24)
}

// MakeABx encodes an instruction with a register and an unsigned
// 16-bit operand.
func MakeABx(op Opcode, a uint8, bx uint16) Instr {
	return Instr(uint32(op) | uint32(a)<<8 | uint32(bx)<<16)
}

// MakeASBx encodes an instruction with a register and a signed 16-bit
// operand.
func MakeASBx(op Opcode, a uint8, sbx int16) Instr {
	return MakeABx(op, a, uint16(sbx))
}

// Op returns the opcode.
func (i Instr) Op() Opcode { return Opcode(i & 0xff) }

// A returns the first register operand.
func (i Instr) A() uint8 { return uint8(i >> 8) }

// B returns the second register operand.
func (i Instr) B() uint8 { return uint8(i >> 16) }

// C returns the third register operand.
func (i Instr) C() uint8 { return uint8(i >> 24) }

// Bx returns the wide unsigned operand.
func (i Instr) Bx() uint16 { return uint16(i >> 16) }

// SBx returns the wide signed operand.
func (i Instr) SBx() int16 { return int16(i >> 16) }

// WithSBx returns a copy of the instruction with the sbx field
// replaced, used when backpatching jumps.
func (i Instr) WithSBx(sbx int16) Instr {
	return Instr(uint32(i)&0xffff | uint32(uint16(sbx))<<16)
}

// ---------------------------------------------------------------------------
// Constants and prototypes
// ---------------------------------------------------------------------------

// ConstKind tags a constant pool entry.
type ConstKind byte

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstProto
	ConstClass
)

// Constant is one constant pool entry. Exactly the field selected by
// Kind is meaningful.
type Constant struct {
	Kind  ConstKind
	Int   int64
	Float float64
	Str   string
	Proto *Function
	Class *ClassDesc
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return c.Str
	case ConstProto:
		return fmt.Sprintf("<fn %s>", c.Proto.Name)
	case ConstClass:
		return fmt.Sprintf("<class %s>", c.Class.Name)
	}
	return "?"
}

// UpvalDesc describes one captured variable of a function prototype.
type UpvalDesc struct {
	InParent bool // capture a parent local (else a parent upvalue)
	Index    int
	Name     string
}

// MethodDesc names one method of a class descriptor.
type MethodDesc struct {
	Name  string
	Proto *Function
}

// ClassDesc is the compile-time description of a class. When HasParent
// is set, the parent class value is loaded into the destination
// register before make_class executes.
type ClassDesc struct {
	Name      string
	HasParent bool
	Methods   []MethodDesc
}

// Function is a compiled function prototype.
type Function struct {
	Name      string
	NumParams int
	NumRegs   int
	IsAsync   bool
	Code      []Instr
	Consts    []Constant
	Upvals    []UpvalDesc
	Lines     []int32 // source line per instruction
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// Builder accumulates instructions and constants for one function.
type Builder struct {
	code     []Instr
	lines    []int32
	consts   []Constant
	constMap map[constKey]int
}

// constKey dedups int, float and string constants.
type constKey struct {
	kind ConstKind
	num  uint64
	str  string
}

// NewBuilder creates an empty bytecode builder.
func NewBuilder() *Builder {
	return &Builder{constMap: make(map[constKey]int)}
}

// Len returns the number of emitted instructions.
func (b *Builder) Len() int {
	return len(b.code)
}

// Emit appends an instruction, recording its source line.
func (b *Builder) Emit(instr Instr, line int32) int {
	b.code = append(b.code, instr)
	b.lines = append(b.lines, line)
	return len(b.code) - 1
}

// AddConst interns a constant, returning its pool index. Int, float
// and string constants are deduplicated; prototypes and class
// descriptors always get fresh slots.
func (b *Builder) AddConst(c Constant) (int, bool) {
	switch c.Kind {
	case ConstInt:
		return b.intern(constKey{kind: ConstInt, num: uint64(c.Int)}, c)
	case ConstFloat:
		return b.intern(constKey{kind: ConstFloat, num: floatBits(c.Float)}, c)
	case ConstString:
		return b.intern(constKey{kind: ConstString, str: c.Str}, c)
	}
	if len(b.consts) >= 1<<16 {
		return 0, false
	}
	b.consts = append(b.consts, c)
	return len(b.consts) - 1, true
}

func (b *Builder) intern(key constKey, c Constant) (int, bool) {
	if idx, ok := b.constMap[key]; ok {
		return idx, true
	}
	if len(b.consts) >= 1<<16 {
		return 0, false
	}
	idx := len(b.consts)
	b.consts = append(b.consts, c)
	b.constMap[key] = idx
	return idx, true
}

// Label is a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	target   int
	refs     []int // instruction indices awaiting a patch
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{}
}

// Mark resolves a label to the current position and backpatches every
// jump that referenced it.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.target = len(b.code)
	for _, ref := range label.refs {
		b.code[ref] = b.code[ref].WithSBx(int16(label.target - (ref + 1)))
	}
	label.refs = nil
}

// EmitJump emits a jump-family instruction targeting a label. Forward
// references are patched when the label is marked.
func (b *Builder) EmitJump(op Opcode, a uint8, label *Label, line int32) {
	if label.resolved {
		offset := label.target - (len(b.code) + 1)
		b.Emit(MakeASBx(op, a, int16(offset)), line)
		return
	}
	label.refs = append(label.refs, len(b.code))
	b.Emit(MakeASBx(op, a, 0), line)
}

// Build finalizes the function prototype.
func (b *Builder) Build(name string, numParams, numRegs int, isAsync bool, upvals []UpvalDesc) *Function {
	return &Function{
		Name:      name,
		NumParams: numParams,
		NumRegs:   numRegs,
		IsAsync:   isAsync,
		Code:      b.code,
		Consts:    b.consts,
		Upvals:    upvals,
		Lines:     b.lines,
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders one instruction as
// "<offset> | <mnemonic> <operands>", annotating constant references
// with the constant's value.
func DisassembleInstruction(fn *Function, pos int) string {
	instr := fn.Code[pos]
	op := instr.Op()
	info := op.Info()

	// call's b operand is an argument count, not a register.
	if op == OpCall {
		return fmt.Sprintf("%4d | call r%d, %d", pos, instr.A(), instr.B())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d | %s", pos, info.Name)

	switch info.Format {
	case FmtA:
		fmt.Fprintf(&sb, " r%d", instr.A())
	case FmtAB:
		fmt.Fprintf(&sb, " r%d, r%d", instr.A(), instr.B())
	case FmtABC:
		if info.ConstRef {
			fmt.Fprintf(&sb, " r%d, r%d, [%d]", instr.A(), instr.B(), instr.C())
		} else {
			fmt.Fprintf(&sb, " r%d, r%d, r%d", instr.A(), instr.B(), instr.C())
		}
	case FmtABx:
		if info.ConstRef {
			fmt.Fprintf(&sb, " r%d, [%d]", instr.A(), instr.Bx())
		} else {
			fmt.Fprintf(&sb, " r%d, %d", instr.A(), instr.Bx())
		}
	case FmtASBx:
		switch op {
		case OpJumpIfFalse, OpJumpIfTrue, OpTryPush:
			fmt.Fprintf(&sb, " r%d, %d", instr.A(), pos+1+int(instr.SBx()))
		default:
			fmt.Fprintf(&sb, " r%d, %d", instr.A(), instr.SBx())
		}
	case FmtSBx:
		fmt.Fprintf(&sb, " %d", pos+1+int(instr.SBx()))
	}

	if info.ConstRef {
		var idx int
		if info.Format == FmtABC {
			idx = int(instr.C())
		} else {
			idx = int(instr.Bx())
		}
		if idx < len(fn.Consts) {
			fmt.Fprintf(&sb, "; %s", fn.Consts[idx])
		}
	}

	return sb.String()
}

// Disassemble renders a function header followed by one line per
// instruction, then recurses into nested prototypes.
func Disassemble(fn *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %s: params=%d registers=%d code=%d consts=%d\n",
		fn.Name, fn.NumParams, fn.NumRegs, len(fn.Code), len(fn.Consts))
	for pos := range fn.Code {
		sb.WriteString(DisassembleInstruction(fn, pos))
		sb.WriteByte('\n')
	}
	for _, c := range fn.Consts {
		switch c.Kind {
		case ConstProto:
			sb.WriteByte('\n')
			sb.WriteString(Disassemble(c.Proto))
		case ConstClass:
			for _, m := range c.Class.Methods {
				sb.WriteByte('\n')
				sb.WriteString(Disassemble(m.Proto))
			}
		}
	}
	return sb.String()
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}
