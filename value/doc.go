// Package value defines the tagged union used at the host/engine boundary.
//
// Every bridge operation marshals through Value rather than relying on
// implicit coercion:
//
//	Kind        Go side              Lua side
//	──────────────────────────────────────────────────────
//	KindNil     nil                  nil
//	KindBool    bool                 boolean
//	KindNumber  float64              number
//	KindString  string               string
//	KindTable   *Table               table (copied)
//	KindRef     *Ref                 function, userdata, thread, channel,
//	                                 or an injected host object
//
// Build values from Go data with Of, or with the typed constructors:
//
//	v, err := value.Of(map[string]any{"x": 5, "list": []int{1, 2, 3}})
//	n := value.Int(42)
//	h := value.HostRef(&Service{}) // injected as userdata
//
// Convert back with Interface, or inspect with the As* accessors:
//
//	if t, ok := v.AsTable(); ok {
//	    x, _ := t.Field("x").AsInt()
//	}
package value
