package value

import (
	"reflect"

	"github.com/wippyai/lua-bridge/errors"
)

const maxDepth = 64

// Of converts plain Go data to a Value: nil, bool, integers, floats, string,
// []byte, slices and arrays (sequences), maps with string keys (fields), and
// Value, *Table or *Ref as-is. Anything else fails with an Unsupported error;
// wrap such values with HostRef to inject them as host objects.
func Of(v any) (Value, error) {
	return of(v, 0, false)
}

// OfHost is like Of but wraps every value Of cannot convert with HostRef,
// at any nesting depth. Structs, pointers, functions and maps with
// non-string keys become host objects.
func OfHost(v any) (Value, error) {
	return of(v, 0, true)
}

// MustOf is like Of but panics on unsupported input.
func MustOf(v any) Value {
	out, err := Of(v)
	if err != nil {
		panic(err)
	}
	return out
}

func of(v any, depth int, host bool) (Value, error) {
	if depth > maxDepth {
		return Nil, errors.InvalidInput(errors.PhaseMarshal, "value nesting too deep")
	}

	switch x := v.(type) {
	case nil:
		return Nil, nil
	case Value:
		return x, nil
	case *Table:
		return FromTable(x), nil
	case *Ref:
		return FromRef(x), nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case []any:
		t := NewTable()
		for i, e := range x {
			ev, err := of(e, depth+1, host)
			if err != nil {
				return Nil, err
			}
			if err := t.Set(Int(int64(i+1)), ev); err != nil {
				return Nil, err
			}
		}
		return FromTable(t), nil
	case map[string]any:
		t := NewTable()
		for k, e := range x {
			ev, err := of(e, depth+1, host)
			if err != nil {
				return Nil, err
			}
			t.SetField(k, ev)
		}
		return FromTable(t), nil
	}

	return ofReflect(reflect.ValueOf(v), depth, host)
}

func ofReflect(rv reflect.Value, depth int, host bool) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Nil, nil
		}
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Nil, nil
		}
		t := NewTable()
		for i := 0; i < rv.Len(); i++ {
			ev, err := of(rv.Index(i).Interface(), depth+1, host)
			if err != nil {
				return Nil, err
			}
			if err := t.Set(Int(int64(i+1)), ev); err != nil {
				return Nil, err
			}
		}
		return FromTable(t), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return Nil, nil
		}
		t := NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := of(iter.Value().Interface(), depth+1, host)
			if err != nil {
				return Nil, err
			}
			t.SetField(iter.Key().String(), ev)
		}
		return FromTable(t), nil
	}

	if host {
		return HostRef(rv.Interface()), nil
	}
	return Nil, errors.Unsupported(errors.PhaseMarshal, rv.Type().String())
}
