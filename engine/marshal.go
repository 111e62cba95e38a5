package engine

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"

	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/resource"
	"github.com/wippyai/lua-bridge/value"
)

// lift converts a Lua value into a value.Value. Tables are copied; values
// that cannot be copied are pinned and returned as refs.
func (h *luaHandle) lift(lv lua.LValue) (value.Value, error) {
	return h.liftMemo(lv, make(map[*lua.LTable]*value.Table))
}

func (h *luaHandle) liftMemo(lv lua.LValue, memo map[*lua.LTable]*value.Table) (value.Value, error) {
	switch v := lv.(type) {
	case lua.LBool:
		return value.Bool(bool(v)), nil
	case lua.LNumber:
		return value.Number(float64(v)), nil
	case lua.LString:
		return value.String(string(v)), nil
	case *lua.LTable:
		return h.liftTable(v, memo)
	case *lua.LUserData:
		return h.pin(v, "userdata", v.Value)
	}

	if lv == nil || lv == lua.LNil {
		return value.Nil, nil
	}
	return h.pin(lv, lv.Type().String(), nil)
}

func (h *luaHandle) liftTable(lt *lua.LTable, memo map[*lua.LTable]*value.Table) (value.Value, error) {
	if t, ok := memo[lt]; ok {
		return value.FromTable(t), nil
	}

	t := value.NewTable()
	memo[lt] = t

	var liftErr error
	lt.ForEach(func(k, v lua.LValue) {
		if liftErr != nil {
			return
		}
		kv, err := h.liftMemo(k, memo)
		if err != nil {
			liftErr = err
			return
		}
		vv, err := h.liftMemo(v, memo)
		if err != nil {
			liftErr = err
			return
		}
		liftErr = t.Set(kv, vv)
	})
	if liftErr != nil {
		return value.Nil, liftErr
	}

	origin, err := h.pinRef(lt, "table", nil)
	if err != nil {
		return value.Nil, err
	}
	t.BindOrigin(origin)
	return value.FromTable(t), nil
}

func (h *luaHandle) pin(lv lua.LValue, luaType string, host any) (value.Value, error) {
	r, err := h.pinRef(lv, luaType, host)
	if err != nil {
		return value.Nil, err
	}
	return value.FromRef(r), nil
}

func (h *luaHandle) pinRef(lv lua.LValue, luaType string, host any) (*value.Ref, error) {
	handle, err := h.refs.Insert(resource.TypeLuaValue, lv)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindResource, err, "pin "+luaType)
	}
	return value.EngineRef(h.id, handle, luaType, host), nil
}

// lower converts a value.Value into a Lua value owned by this handle.
func (h *luaHandle) lower(v value.Value) (lua.LValue, error) {
	return h.lowerMemo(v, make(map[*value.Table]*lua.LTable))
}

func (h *luaHandle) lowerMemo(v value.Value, memo map[*value.Table]*lua.LTable) (lua.LValue, error) {
	switch v.Kind() {
	case value.KindNil:
		return lua.LNil, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return lua.LBool(b), nil
	case value.KindNumber:
		n, _ := v.AsNumber()
		return lua.LNumber(n), nil
	case value.KindString:
		s, _ := v.AsString()
		return lua.LString(s), nil
	case value.KindTable:
		t, _ := v.AsTable()
		return h.lowerTable(t, memo)
	case value.KindRef:
		r, _ := v.AsRef()
		return h.lowerRef(r)
	}
	return nil, errors.Unsupported(errors.PhaseMarshal, fmt.Sprintf("value kind %v", v.Kind()))
}

func (h *luaHandle) lowerTable(t *value.Table, memo map[*value.Table]*lua.LTable) (lua.LValue, error) {
	if origin := t.Origin(); origin != nil && origin.Owner() == h.id {
		if lv, ok := h.refs.GetTyped(origin.Handle(), resource.TypeLuaValue); ok {
			return lv.(lua.LValue), nil
		}
	}
	if lt, ok := memo[t]; ok {
		return lt, nil
	}

	lt := h.L.CreateTable(t.Len(), t.Count()-t.Len())
	memo[t] = lt

	var lowerErr error
	t.Range(func(k, v value.Value) bool {
		lk, err := h.lowerMemo(k, memo)
		if err != nil {
			lowerErr = err
			return false
		}
		lv, err := h.lowerMemo(v, memo)
		if err != nil {
			lowerErr = err
			return false
		}
		lt.RawSet(lk, lv)
		return true
	})
	if lowerErr != nil {
		return nil, lowerErr
	}
	return lt, nil
}

func (h *luaHandle) lowerRef(r *value.Ref) (lua.LValue, error) {
	if r.IsHost() {
		if !h.opts.HostInjection {
			host, _ := r.HostValue()
			return nil, errors.Unsupported(errors.PhaseMarshal, fmt.Sprintf("%T", host))
		}
		host, _ := r.HostValue()
		return luar.New(h.L, host), nil
	}

	if r.Owner() != h.id {
		return nil, errors.StaleRef(errors.PhaseMarshal)
	}
	lv, ok := h.refs.GetTyped(r.Handle(), resource.TypeLuaValue)
	if !ok {
		return nil, errors.StaleRef(errors.PhaseMarshal)
	}
	return lv.(lua.LValue), nil
}
