package value

import (
	"fmt"

	"github.com/wippyai/lua-bridge/resource"
)

// Ref is an opaque reference that crosses the boundary without being copied.
//
// Engine refs point at a value pinned in the resource table of the engine
// handle that produced them (functions, userdata, coroutines). They are only
// valid for that handle and only until it is released.
//
// Host refs carry a Go value to be injected into the engine as-is, such as a
// struct exposed as userdata or a Go function exposed as a Lua function.
type Ref struct {
	host    any
	luaType string
	owner   uint64
	handle  resource.Handle
	isHost  bool
}

// HostRef wraps a Go value for host-object injection.
func HostRef(v any) Value {
	return FromRef(&Ref{host: v, isHost: true})
}

// EngineRef creates a reference to a value pinned under handle in the
// resource table of the engine handle identified by owner. host is the Go
// value behind a userdata, if any.
func EngineRef(owner uint64, handle resource.Handle, luaType string, host any) *Ref {
	return &Ref{
		owner:   owner,
		handle:  handle,
		luaType: luaType,
		host:    host,
	}
}

// IsHost reports whether r was created by HostRef.
func (r *Ref) IsHost() bool {
	return r.isHost
}

// HostValue returns the Go value carried by r: the injected object for host
// refs, or the object wrapped by a userdata for engine refs.
func (r *Ref) HostValue() (any, bool) {
	if r.isHost || r.host != nil {
		return r.host, true
	}
	return nil, false
}

// Owner identifies the engine handle an engine ref belongs to. Host refs
// return 0.
func (r *Ref) Owner() uint64 {
	return r.owner
}

func (r *Ref) Handle() resource.Handle {
	return r.handle
}

// Type returns the Lua type name of the referenced value ("function",
// "userdata", ...). Host refs report "host".
func (r *Ref) Type() string {
	if r.isHost {
		return "host"
	}
	return r.luaType
}

func (r *Ref) String() string {
	if r.isHost {
		return fmt.Sprintf("host: %T", r.host)
	}
	return fmt.Sprintf("%s: ref %d@%d", r.luaType, r.handle, r.owner)
}

func (r *Ref) same(o *Ref) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil || r.isHost || o.isHost {
		return false
	}
	return r.owner == o.owner && r.handle == o.handle
}

// EngineRefs returns every engine ref reachable from v: engine refs held in
// v or its nested tables, and the origins of those tables. Host refs are
// skipped. Each ref is reported once.
func EngineRefs(v Value) []*Ref {
	var out []*Ref
	collectRefs(v, make(map[*Table]bool), &out)
	return out
}

func collectRefs(v Value, seen map[*Table]bool, out *[]*Ref) {
	switch v.kind {
	case KindRef:
		if !v.r.isHost {
			*out = append(*out, v.r)
		}
	case KindTable:
		t := v.t
		if seen[t] {
			return
		}
		seen[t] = true
		if t.origin != nil {
			*out = append(*out, t.origin)
		}
		t.Range(func(k, e Value) bool {
			collectRefs(k, seen, out)
			collectRefs(e, seen, out)
			return true
		})
	}
}
