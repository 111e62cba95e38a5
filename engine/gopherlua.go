package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	luabridge "github.com/wippyai/lua-bridge"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/resource"
	"github.com/wippyai/lua-bridge/value"
)

// DefaultSearchPath is package.path inside a fresh handle.
const DefaultSearchPath = "?.lua;?/init.lua"

var handleSeq atomic.Uint64

// LuaEngine creates gopher-lua handles.
type LuaEngine struct{}

var _ luabridge.Engine = (*LuaEngine)(nil)

// NewLuaEngine creates a new gopher-lua based engine
func NewLuaEngine() *LuaEngine {
	return &LuaEngine{}
}

// NewHandle creates an isolated Lua state configured by opts.
func (e *LuaEngine) NewHandle(ctx context.Context, opts luabridge.Options) (luabridge.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newLuaHandle(opts)
}

type luaHandle struct {
	L       *lua.LState
	vfs     *vfs
	refs    *resource.Table
	wasm    wazero.Runtime
	log     *zap.Logger
	opts    luabridge.Options
	timeout time.Duration
	id      uint64
	closed  bool
}

func newLuaHandle(opts luabridge.Options) (_ *luaHandle, err error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = luabridge.DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: !opts.StandardLibs})
	h := &luaHandle{
		L:       L,
		vfs:     newVFS(),
		refs:    resource.NewTable(),
		log:     log,
		opts:    opts,
		timeout: timeout,
		id:      handleSeq.Add(1),
	}
	defer func() {
		if err != nil {
			L.Close()
			h.refs.Close()
		}
	}()

	if !opts.StandardLibs {
		if err := openMinimalLibs(L); err != nil {
			return nil, err
		}
	}
	if err := h.vfs.install(L); err != nil {
		return nil, err
	}
	if opts.EnableWASM {
		h.openWASM()
	}

	h.log.Debug("lua handle created",
		zap.Uint64("handle", h.id),
		zap.Duration("timeout", timeout),
		zap.Bool("stdlib", opts.StandardLibs),
		zap.Bool("host_injection", opts.HostInjection),
		zap.Bool("wasm", opts.EnableWASM))
	return h, nil
}

// openMinimalLibs opens what require and argument unpacking depend on.
func openMinimalLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
	} {
		err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}
	return nil
}

func (h *luaHandle) SetGlobal(name string, v value.Value) error {
	lv, err := h.lower(v)
	if err != nil {
		return err
	}
	h.L.SetGlobal(name, lv)
	return nil
}

func (h *luaHandle) GetGlobal(name string) (value.Value, error) {
	return h.lift(h.L.GetGlobal(name))
}

func (h *luaHandle) ResolveTable(name string) (luabridge.Table, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseField, "empty table name")
	}

	parts := strings.Split(name, ".")
	cur := h.L.GetGlobal(parts[0])
	for i := range parts {
		tbl, ok := cur.(*lua.LTable)
		if !ok {
			return nil, errors.New(errors.PhaseField, errors.KindTypeMismatch).
				Name(strings.Join(parts[:i+1], ".")).
				LuaType(cur.Type().String()).
				Detail("expected table").
				Build()
		}
		if i == len(parts)-1 {
			return &luaTable{h: h, tbl: tbl}, nil
		}
		if err := protect(func() { cur = h.L.GetField(tbl, parts[i+1]) }); err != nil {
			return nil, err
		}
	}
	return nil, errors.NotFound(errors.PhaseField, "table", name)
}

func (h *luaHandle) EvalString(ctx context.Context, code string) ([]value.Value, error) {
	return h.eval(ctx, func() (*lua.LFunction, error) {
		return h.L.Load(strings.NewReader(code), "<string>")
	})
}

func (h *luaHandle) EvalFile(ctx context.Context, path string) ([]value.Value, error) {
	src, err := h.vfs.read(path)
	if err != nil {
		return nil, err
	}
	return h.eval(ctx, func() (*lua.LFunction, error) {
		return h.L.Load(bytes.NewReader(src), cleanPath(path))
	})
}

// eval runs a chunk under the handle timeout and collects every returned
// value.
func (h *luaHandle) eval(ctx context.Context, load func() (*lua.LFunction, error)) ([]value.Value, error) {
	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	L := h.L
	L.SetContext(callCtx)
	defer L.RemoveContext()

	fn, err := load()
	if err != nil {
		return nil, err
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		if ctxErr := callCtx.Err(); ctxErr != nil {
			h.log.Debug("lua evaluation interrupted",
				zap.Uint64("handle", h.id),
				zap.Duration("timeout", h.timeout),
				zap.Error(ctxErr))
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}

	top := L.GetTop()
	results := make([]value.Value, 0, top-base)
	for i := base + 1; i <= top; i++ {
		v, err := h.lift(L.Get(i))
		if err != nil {
			L.SetTop(base)
			return nil, err
		}
		results = append(results, v)
	}
	L.SetTop(base)
	return results, nil
}

func (h *luaHandle) MountFile(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.vfs.write(path, content)
}

func (h *luaHandle) Release(r *value.Ref) bool {
	if r == nil || r.IsHost() || r.Owner() != h.id {
		return false
	}
	_, ok := h.refs.Remove(r.Handle())
	return ok
}

func (h *luaHandle) Close() error {
	if h.closed {
		return errors.InvalidInput(errors.PhaseShutdown, "handle already closed")
	}
	h.closed = true

	pinned := h.refs.Len()
	h.refs.Close()
	h.L.Close()

	var err error
	if h.wasm != nil {
		err = h.wasm.Close(context.Background())
		h.wasm = nil
	}

	h.log.Debug("lua handle closed",
		zap.Uint64("handle", h.id),
		zap.Int("pinned_refs", pinned),
		zap.Error(err))
	return err
}

type luaTable struct {
	h   *luaHandle
	tbl *lua.LTable
}

func (t *luaTable) SetField(name string, v value.Value) error {
	lv, err := t.h.lower(v)
	if err != nil {
		return err
	}
	return protect(func() { t.h.L.SetField(t.tbl, name, lv) })
}

// protect converts a Lua error raised outside a protected call into an error.
func protect(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}
