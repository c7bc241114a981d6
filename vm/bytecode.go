package vm

import "fmt"

// Every instruction starts with one opcode byte split into a high nibble
// (major group) and a low nibble (variant):
//
//	h=0  BINOP       l-1 selects +, -, *, /, %, <, <=, >, >=, =, !=, &&, ||  (l=1..13)
//	h=1  Misc-1      CONST, STRING, SEXP, STI, STA, JMP, END, RET, DROP, DUP, SWAP, ELEM
//	h=2  LD          load value from namespace l at INT32 index
//	h=3  LDA         push a Reference to namespace l at INT32 index
//	h=4  ST          store stack top into namespace l at INT32 index (leaves top in place)
//	h=5  Misc-2      CJMPz, CJMPnz, BEGIN, CBEGIN, CLOSURE, CALLC, CALL, TAG, ARRAY, FAIL, LINE
//	h=6  PATT        classify stack top (7 variants)
//	h=7  builtin     read, write, length, string, array, elem
//	h=15 STOP        terminate execution
//
// Namespace codes for LD/LDA/ST: 0=Global, 1=Local, 2=Argument, 3=Captured.
//
// Immediate operand widths: INT32 is little-endian 32-bit signed (advances ip
// by 4); STRREF is an INT32 read as a byte offset into the string table; BYTE
// is one byte.
type Bytecode byte

func (b Bytecode) group() byte   { return byte(b) >> 4 }
func (b Bytecode) variant() byte { return byte(b) & 0x0F }

const (
	groupBinop   = 0x0
	groupMisc1   = 0x1
	groupLoad    = 0x2
	groupLoadRef = 0x3
	groupStore   = 0x4
	groupMisc2   = 0x5
	groupPatt    = 0x6
	groupBuiltin = 0x7
	groupStop    = 0xF
)

// Misc-1 variants (h=1).
const (
	opConst Bytecode = groupMisc1<<4 | iota
	opString
	opSexp
	opSti
	opSta
	opJmp
	opEnd
	opRet
	opDrop
	opDup
	opSwap
	opElem
)

// Misc-2 variants (h=5).
const (
	opCjmpZero Bytecode = groupMisc2<<4 | iota
	opCjmpNonZero
	opBegin
	opCbegin
	opClosure
	opCallc
	opCall
	opTag
	opArray
	opFail
	opLine
)

// binopKind identifies one of the 13 BINOP variants, indexed by l-1.
type binopKind byte

const (
	binopAdd binopKind = iota
	binopSub
	binopMul
	binopDiv
	binopMod
	binopLt
	binopLe
	binopGt
	binopGe
	binopEq
	binopNe
	binopAnd
	binopOr
)

var binopNames = [...]string{"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "=", "!=", "&&", "||"}

func (k binopKind) String() string {
	if int(k) < len(binopNames) {
		return binopNames[k]
	}
	return "?binop?"
}

// Namespace is one of the four addressable storage areas a Designator can
// point into.
type Namespace byte

const (
	NamespaceGlobal Namespace = iota
	NamespaceLocal
	NamespaceArgument
	NamespaceCaptured
)

func (n Namespace) String() string {
	switch n {
	case NamespaceGlobal:
		return "G"
	case NamespaceLocal:
		return "L"
	case NamespaceArgument:
		return "A"
	case NamespaceCaptured:
		return "C"
	default:
		return "?"
	}
}

func (n Namespace) valid() bool {
	return n <= NamespaceCaptured
}

// Designator identifies a mutable slot: a (namespace, index) pair. It is the
// payload of a Reference value, produced by LDA and consumed by STI/STA.
type Designator struct {
	Namespace Namespace
	Index     uint32
}

func (d Designator) String() string {
	return fmt.Sprintf("%s(%d)", d.Namespace, d.Index)
}

// PattKind selects one of the 7 PATT classifiers.
type PattKind byte

const (
	PattStringEq PattKind = iota
	PattString
	PattArray
	PattSexp
	PattNonInt
	PattInt
	PattClosure
)

// Builtin selects one of the six primitive operations behind h=7.
type Builtin byte

const (
	BuiltinRead Builtin = iota
	BuiltinWrite
	BuiltinLength
	BuiltinString
	BuiltinArray
	BuiltinElem
)

var builtinNames = [...]string{"read", "write", "length", "string", "array", "elem"}

func (b Builtin) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return "?builtin?"
}

// String renders an opcode byte the way a disassembler would; used in error
// messages and --debug traces.
func (b Bytecode) String() string {
	switch b.group() {
	case groupBinop:
		if v := b.variant(); v >= 1 && v <= 13 {
			return "BINOP " + binopKind(v-1).String()
		}
		return "?binop?"
	case groupMisc1:
		switch b {
		case opConst:
			return "CONST"
		case opString:
			return "STRING"
		case opSexp:
			return "SEXP"
		case opSti:
			return "STI"
		case opSta:
			return "STA"
		case opJmp:
			return "JMP"
		case opEnd:
			return "END"
		case opRet:
			return "RET"
		case opDrop:
			return "DROP"
		case opDup:
			return "DUP"
		case opSwap:
			return "SWAP"
		case opElem:
			return "ELEM"
		}
	case groupLoad:
		return "LD " + Namespace(b.variant()).String()
	case groupLoadRef:
		return "LDA " + Namespace(b.variant()).String()
	case groupStore:
		return "ST " + Namespace(b.variant()).String()
	case groupMisc2:
		switch b {
		case opCjmpZero:
			return "CJMPz"
		case opCjmpNonZero:
			return "CJMPnz"
		case opBegin:
			return "BEGIN"
		case opCbegin:
			return "CBEGIN"
		case opClosure:
			return "CLOSURE"
		case opCallc:
			return "CALLC"
		case opCall:
			return "CALL"
		case opTag:
			return "TAG"
		case opArray:
			return "ARRAY"
		case opFail:
			return "FAIL"
		case opLine:
			return "LINE"
		}
	case groupPatt:
		return fmt.Sprintf("PATT %d", b.variant())
	case groupBuiltin:
		return "CALL " + Builtin(b.variant()).String()
	case groupStop:
		return "STOP"
	}
	return fmt.Sprintf("?0x%02X?", byte(b))
}

const maxSexpArity = 6
