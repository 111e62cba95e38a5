package value

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	case KindRef:
		return "ref"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a value crossing the host/engine boundary.
// The zero Value is nil.
type Value struct {
	t    *Table
	r    *Ref
	s    string
	n    float64
	b    bool
	kind Kind
}

// Nil is the nil value.
var Nil = Value{}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func Number(n float64) Value {
	return Value{kind: KindNumber, n: n}
}

func Int(i int64) Value {
	return Value{kind: KindNumber, n: float64(i)}
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// FromTable wraps t. A nil table yields Nil.
func FromTable(t *Table) Value {
	if t == nil {
		return Nil
	}
	return Value{kind: KindTable, t: t}
}

// FromRef wraps r. A nil ref yields Nil.
func FromRef(r *Ref) Value {
	if r == nil {
		return Nil
	}
	return Value{kind: KindRef, r: r}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNil() bool {
	return v.kind == KindNil
}

// Truthy reports Lua truthiness: everything except nil and false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsNumber() (float64, bool) {
	return v.n, v.kind == KindNumber
}

// AsInt returns the number truncated toward zero. ok is false for
// non-numbers and for numbers with a fractional part.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) {
		return 0, false
	}
	return int64(v.n), true
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) AsTable() (*Table, bool) {
	return v.t, v.kind == KindTable
}

func (v Value) AsRef() (*Ref, bool) {
	return v.r, v.kind == KindRef
}

// Equal reports whether v and o hold the same value. Tables and refs compare
// by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindTable:
		return v.t == o.t
	case KindRef:
		return v.r.same(o.r)
	}
	return false
}

// Interface converts v to plain Go data: nil, bool, float64, string,
// []any for sequences, map[string]any for other tables, and the host object
// (or *Ref) for references.
func (v Value) Interface() any {
	return v.toInterface(make(map[*Table]bool))
}

func (v Value) toInterface(seen map[*Table]bool) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindTable:
		return v.t.toInterface(seen)
	case KindRef:
		if h, ok := v.r.HostValue(); ok {
			return h
		}
		return v.r
	default:
		return nil
	}
}

// String formats v the way the Lua print function would, expanding tables.
func (v Value) String() string {
	var b strings.Builder
	v.format(&b, make(map[*Table]bool))
	return b.String()
}

func (v Value) format(b *strings.Builder, seen map[*Table]bool) {
	switch v.kind {
	case KindNil:
		b.WriteString("nil")
	case KindBool:
		b.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		b.WriteString(FormatNumber(v.n))
	case KindString:
		b.WriteString(v.s)
	case KindTable:
		v.t.format(b, seen)
	case KindRef:
		b.WriteString(v.r.String())
	}
}

// FormatNumber renders n like Lua's tostring: integral values without a
// fractional part, everything else with 14 significant digits.
func FormatNumber(n float64) string {
	switch {
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	case math.IsNaN(n):
		return "nan"
	case n == math.Trunc(n) && math.Abs(n) < 1e15:
		return strconv.FormatInt(int64(n), 10)
	default:
		return strconv.FormatFloat(n, 'g', 14, 64)
	}
}

// Interfaces converts every value with Interface.
func Interfaces(vs []Value) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v.Interface()
	}
	return out
}

// First returns the first value or Nil.
func First(vs []Value) Value {
	if len(vs) == 0 {
		return Nil
	}
	return vs[0]
}
