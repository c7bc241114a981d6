package vm

import "fmt"

// Kind tags the dynamic type of a Value.
type Kind byte

const (
	KindInt Kind = iota
	KindString
	KindSexp
	KindArray
	KindClosure
	KindReference
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindSexp:
		return "sexp"
	case KindArray:
		return "array"
	case KindClosure:
		return "closure"
	case KindReference:
		return "reference"
	case KindEmpty:
		return "empty"
	default:
		return "?kind?"
	}
}

// Sexp is a tagged, fixed-arity compound value: a constructor name plus up
// to maxSexpArity child values.
type Sexp struct {
	Tag      string
	Children []Value
}

// IsCons reports whether s is the two-element "cons" constructor used to
// represent list cells. Identification is by tag content and arity, not by
// string-table pointer identity.
func (s *Sexp) IsCons() bool {
	return s.Tag == "cons" && len(s.Children) == 2
}

// Array is a mutable, fixed-length vector of values.
type Array struct {
	Elements []Value
}

// Closure pairs a code entry point with the values it captured at creation
// time.
type Closure struct {
	EntryIP  uint32
	Captured []Value
}

// StringVal is a String's owning backing buffer. It is held behind a
// pointer so that every Value copy referring to "the same" string (passed
// as an argument, stored as an array element, loaded back out of a global)
// shares one mutable buffer: STA's indexed write mutates it in
// place, and that mutation is visible through every other holder, exactly
// the aliasing semantics containers are specified to have.
type StringVal struct {
	Bytes []byte
}

// Value is the tagged union every stack slot, global, local, argument and
// captured variable holds. The zero Value is the Int 0.
type Value struct {
	kind Kind

	i    int32
	strv *StringVal
	sexp *Sexp
	arr  *Array
	clo  *Closure
	ref  Designator
}

func NewInt(n int32) Value {
	return Value{kind: KindInt, i: n}
}

func BoolValue(b bool) Value {
	if b {
		return NewInt(1)
	}
	return NewInt(0)
}

func NewString(s string) Value {
	return Value{kind: KindString, strv: &StringVal{Bytes: []byte(s)}}
}

func NewSexp(tag string, children []Value) Value {
	return Value{kind: KindSexp, sexp: &Sexp{Tag: tag, Children: children}}
}

func NewArray(elements []Value) Value {
	return Value{kind: KindArray, arr: &Array{Elements: elements}}
}

func NewClosure(entryIP uint32, captured []Value) Value {
	return Value{kind: KindClosure, clo: &Closure{EntryIP: entryIP, Captured: captured}}
}

func NewReference(d Designator) Value {
	return Value{kind: KindReference, ref: d}
}

// EmptyValue is the uninitialized sentinel BEGIN/CBEGIN install into fresh
// local slots, and what `write` leaves on the stack.
func EmptyValue() Value {
	return Value{kind: KindEmpty}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsInt() bool       { return v.kind == KindInt }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsSexp() bool      { return v.kind == KindSexp }
func (v Value) IsArray() bool     { return v.kind == KindArray }
func (v Value) IsClosure() bool   { return v.kind == KindClosure }
func (v Value) IsReference() bool { return v.kind == KindReference }

// Int returns the Int payload. Callers must check Kind first; it panics
// otherwise, mirroring the other accessors.
func (v Value) Int() int32 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("Value.Int called on a %s", v.kind))
	}
	return v.i
}

func (v Value) Str() string {
	if v.kind != KindString {
		panic(fmt.Sprintf("Value.Str called on a %s", v.kind))
	}
	return string(v.strv.Bytes)
}

// StringVal exposes the shared, mutable backing buffer so STA and ELEM can
// read or write individual bytes in place, with the write visible through
// every other Value referring to the same String.
func (v Value) StringVal() *StringVal {
	if v.kind != KindString {
		panic(fmt.Sprintf("Value.StringVal called on a %s", v.kind))
	}
	return v.strv
}

func (v Value) Sexp() *Sexp {
	if v.kind != KindSexp {
		panic(fmt.Sprintf("Value.Sexp called on a %s", v.kind))
	}
	return v.sexp
}

func (v Value) Array() *Array {
	if v.kind != KindArray {
		panic(fmt.Sprintf("Value.Array called on a %s", v.kind))
	}
	return v.arr
}

func (v Value) Closure() *Closure {
	if v.kind != KindClosure {
		panic(fmt.Sprintf("Value.Closure called on a %s", v.kind))
	}
	return v.clo
}

func (v Value) Reference() Designator {
	if v.kind != KindReference {
		panic(fmt.Sprintf("Value.Reference called on a %s", v.kind))
	}
	return v.ref
}

// Truthy reports whether v is anything other than the Int 0. CJMPz/CJMPnz
// and the boolean binops apply the same zero test but reject non-Int
// operands instead of calling this.
func (v Value) Truthy() bool {
	return !(v.kind == KindInt && v.i == 0)
}

// Length implements the `length` builtin and the LENGTH pattern-irrelevant
// cases: strings and arrays report their element count, sexps their arity.
func (v Value) Length() (int32, bool) {
	switch v.kind {
	case KindString:
		return int32(len(v.strv.Bytes)), true
	case KindArray:
		return int32(len(v.arr.Elements)), true
	case KindSexp:
		return int32(len(v.sexp.Children)), true
	default:
		return 0, false
	}
}
