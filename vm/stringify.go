package vm

import (
	"strconv"
	"strings"
)

// Stringify renders a Value the way the `string` builtin does: ints in
// decimal, strings double-quoted verbatim, arrays as `[e, e, ...]`, sexps as
// `tag(c, c, ...)`, and cons cells of arity 2 as a `{e, e, ...}` list by
// walking the right spine until it hits an Int(0) terminator or a cell that
// isn't itself a cons.
func Stringify(v Value) string {
	var b strings.Builder
	stringifyInto(&b, v)
	return b.String()
}

func stringifyInto(b *strings.Builder, v Value) {
	switch v.Kind() {
	case KindInt:
		b.WriteString(strconv.FormatInt(int64(v.Int()), 10))
	case KindString:
		b.WriteByte('"')
		b.WriteString(v.Str())
		b.WriteByte('"')
	case KindArray:
		b.WriteByte('[')
		for i, e := range v.Array().Elements {
			if i > 0 {
				b.WriteString(", ")
			}
			stringifyInto(b, e)
		}
		b.WriteByte(']')
	case KindClosure:
		b.WriteString("<closure>")
	case KindReference:
		b.WriteString("<reference>")
	case KindEmpty:
		b.WriteString("<empty>")
	case KindSexp:
		s := v.Sexp()
		if s.IsCons() {
			stringifyCons(b, v)
			return
		}
		b.WriteString(s.Tag)
		if len(s.Children) > 0 {
			b.WriteByte('(')
			for i, c := range s.Children {
				if i > 0 {
					b.WriteString(", ")
				}
				stringifyInto(b, c)
			}
			b.WriteByte(')')
		}
	}
}

// stringifyCons walks a chain of cons cells, rendering it as `{e0, e1, ...}`.
// children[0] is the head and children[1] the tail: SEXP binds its children
// ascending (children[0] gets the first, i.e. topmost, pop), so a compiler
// builds cons(head, tail) by pushing the tail first and the head last.
// The walk stops at an Int(0) spine terminator (emitting nothing for it) or
// at any other non-cons tail, which likewise is not itself emitted.
func stringifyCons(b *strings.Builder, v Value) {
	b.WriteByte('{')
	first := true
	cur := v
	for cur.IsSexp() && cur.Sexp().IsCons() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		children := cur.Sexp().Children
		stringifyInto(b, children[0])
		cur = children[1]
	}
	b.WriteByte('}')
}
