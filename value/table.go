package value

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/lua-bridge/errors"
)

// Entry is a table key/value pair whose key is neither a sequence index nor
// a string.
type Entry struct {
	Key   Value
	Value Value
}

// Table is a host-side copy of an engine table: a 1..n sequence part,
// string-keyed fields and any remaining entries.
//
// A table lifted from the engine remembers its origin. Writing an unmodified
// snapshot back into the same engine handle re-injects the original engine
// table. Any mutation made through the Table API forgets the origin.
type Table struct {
	fields map[string]Value
	origin *Ref
	array  []Value
	other  []Entry
}

func NewTable() *Table {
	return &Table{}
}

// NewList builds a sequence table from vs.
func NewList(vs ...Value) *Table {
	t := &Table{}
	for _, v := range vs {
		t.Append(v)
	}
	return t
}

// Len returns the length of the sequence part.
func (t *Table) Len() int {
	return len(t.array)
}

// Index returns the i-th (1-based) sequence element or Nil.
func (t *Table) Index(i int) Value {
	if i >= 1 && i <= len(t.array) {
		return t.array[i-1]
	}
	return t.Get(Int(int64(i)))
}

// Field returns the string-keyed field name or Nil.
func (t *Table) Field(name string) Value {
	return t.fields[name]
}

// Get returns the value stored under key or Nil.
func (t *Table) Get(key Value) Value {
	switch key.kind {
	case KindString:
		return t.fields[key.s]
	case KindNumber:
		if i, ok := seqIndex(key.n); ok && i <= len(t.array) {
			return t.array[i-1]
		}
	}
	for _, e := range t.other {
		if e.Key.Equal(key) {
			return e.Value
		}
	}
	return Nil
}

// Append adds v at the end of the sequence part. Appending Nil is a no-op.
func (t *Table) Append(v Value) {
	if v.IsNil() {
		return
	}
	t.origin = nil
	t.array = append(t.array, v)
	t.migrate()
}

// SetField sets a string-keyed field; Nil deletes it.
func (t *Table) SetField(name string, v Value) {
	t.origin = nil
	if v.IsNil() {
		delete(t.fields, name)
		return
	}
	if t.fields == nil {
		t.fields = make(map[string]Value)
	}
	t.fields[name] = v
}

// Set stores v under key following Lua table rules; Nil deletes the entry.
// Nil and NaN keys are rejected.
func (t *Table) Set(key, v Value) error {
	switch key.kind {
	case KindNil:
		return errors.InvalidInput(errors.PhaseMarshal, "table index is nil")
	case KindString:
		t.SetField(key.s, v)
		return nil
	case KindNumber:
		if math.IsNaN(key.n) {
			return errors.InvalidInput(errors.PhaseMarshal, "table index is NaN")
		}
		if i, ok := seqIndex(key.n); ok && i <= len(t.array)+1 {
			t.origin = nil
			t.setIndex(i, v)
			return nil
		}
	}

	t.origin = nil
	for idx, e := range t.other {
		if e.Key.Equal(key) {
			if v.IsNil() {
				t.other = append(t.other[:idx], t.other[idx+1:]...)
			} else {
				t.other[idx].Value = v
			}
			return nil
		}
	}
	if !v.IsNil() {
		t.other = append(t.other, Entry{Key: key, Value: v})
	}
	return nil
}

func (t *Table) setIndex(i int, v Value) {
	switch {
	case i == len(t.array)+1:
		t.Append(v)
	case !v.IsNil():
		t.array[i-1] = v
	default:
		// A hole ends the sequence; the tail moves to the general part.
		tail := t.array[i:]
		t.array = t.array[:i-1]
		for j, tv := range tail {
			t.other = append(t.other, Entry{Key: Int(int64(i + 1 + j)), Value: tv})
		}
	}
}

// migrate pulls entries keyed len+1, len+2, ... from the general part into
// the sequence.
func (t *Table) migrate() {
	for len(t.other) > 0 {
		next := Int(int64(len(t.array) + 1))
		found := false
		for idx, e := range t.other {
			if e.Key.Equal(next) {
				t.array = append(t.array, e.Value)
				t.other = append(t.other[:idx], t.other[idx+1:]...)
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
}

// Range calls fn for the sequence part in order, then string fields sorted by
// name, then the remaining entries. Returning false stops the iteration.
func (t *Table) Range(fn func(k, v Value) bool) {
	for i, v := range t.array {
		if !fn(Int(int64(i+1)), v) {
			return
		}
	}
	for _, name := range t.fieldNames() {
		if !fn(String(name), t.fields[name]) {
			return
		}
	}
	for _, e := range t.other {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// Count returns the total number of entries.
func (t *Table) Count() int {
	return len(t.array) + len(t.fields) + len(t.other)
}

// IsSequence reports whether the table has only a sequence part.
func (t *Table) IsSequence() bool {
	return len(t.fields) == 0 && len(t.other) == 0
}

// Origin returns the engine table this snapshot was lifted from, or nil.
func (t *Table) Origin() *Ref {
	return t.origin
}

// BindOrigin records the engine table t was lifted from. It is meant for
// engine adapters and must be called after t is filled.
func (t *Table) BindOrigin(r *Ref) {
	t.origin = r
}

func (t *Table) fieldNames() []string {
	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) toInterface(seen map[*Table]bool) any {
	if seen[t] {
		return nil
	}
	seen[t] = true
	defer delete(seen, t)

	if t.IsSequence() {
		out := make([]any, len(t.array))
		for i, v := range t.array {
			out[i] = v.toInterface(seen)
		}
		return out
	}

	out := make(map[string]any, t.Count())
	t.Range(func(k, v Value) bool {
		out[keyString(k)] = v.toInterface(seen)
		return true
	})
	return out
}

func (t *Table) format(b *strings.Builder, seen map[*Table]bool) {
	if seen[t] {
		b.WriteString("{...}")
		return
	}
	seen[t] = true
	defer delete(seen, t)

	b.WriteByte('{')
	first := true
	sep := func() {
		if !first {
			b.WriteString(", ")
		}
		first = false
	}
	for _, v := range t.array {
		sep()
		v.format(b, seen)
	}
	for _, name := range t.fieldNames() {
		sep()
		b.WriteString(name)
		b.WriteString(" = ")
		t.fields[name].format(b, seen)
	}
	for _, e := range t.other {
		sep()
		b.WriteByte('[')
		e.Key.format(b, seen)
		b.WriteString("] = ")
		e.Value.format(b, seen)
	}
	b.WriteByte('}')
}

func keyString(k Value) string {
	switch k.kind {
	case KindString:
		return k.s
	case KindNumber:
		return FormatNumber(k.n)
	case KindBool:
		return strconv.FormatBool(k.b)
	default:
		return k.String()
	}
}

func seqIndex(n float64) (int, bool) {
	if n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}
