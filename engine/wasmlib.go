package engine

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/lua-bridge/resource"
)

// WASMModuleName is the name scripts require to reach the wasm library.
const WASMModuleName = "wasm"

const wasmInstanceType = "wasm.instance"

// wasmInstance is a core module instantiated from a mounted file.
type wasmInstance struct {
	compiled wazero.CompiledModule
	module   api.Module
	path     string
	handle   resource.Handle
}

// Drop releases the instance. It runs when the owning handle closes or the
// script calls close.
func (i *wasmInstance) Drop() {
	ctx := context.Background()
	if i.module != nil {
		_ = i.module.Close(ctx)
		i.module = nil
	}
	if i.compiled != nil {
		_ = i.compiled.Close(ctx)
		i.compiled = nil
	}
}

func (h *luaHandle) openWASM() {
	L := h.L
	mt := L.NewTypeMetatable(wasmInstanceType)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"call":    h.wasmCall,
		"exports": h.wasmExports,
		"close":   h.wasmClose,
	}))
	L.PreloadModule(WASMModuleName, func(L *lua.LState) int {
		L.Push(L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
			"load": h.wasmLoad,
		}))
		return 1
	})
}

func (h *luaHandle) callContext() context.Context {
	if ctx := h.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (h *luaHandle) wasmRuntime() wazero.Runtime {
	if h.wasm == nil {
		cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
		h.wasm = wazero.NewRuntimeWithConfig(context.Background(), cfg)
	}
	return h.wasm
}

// wasmLoad implements wasm.load(path): compile and instantiate a module
// mounted in the virtual filesystem.
func (h *luaHandle) wasmLoad(L *lua.LState) int {
	p := L.CheckString(1)
	src, err := h.vfs.read(p)
	if err != nil {
		L.RaiseError("wasm.load: %s", err.Error())
		return 0
	}

	ctx := h.callContext()
	rt := h.wasmRuntime()
	compiled, err := rt.CompileModule(ctx, src)
	if err != nil {
		L.RaiseError("wasm.load %s: compile: %s", p, err.Error())
		return 0
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = compiled.Close(ctx)
		L.RaiseError("wasm.load %s: instantiate: %s", p, err.Error())
		return 0
	}

	inst := &wasmInstance{compiled: compiled, module: mod, path: cleanPath(p)}
	handle, err := h.refs.Insert(resource.TypeWASMInstance, inst)
	if err != nil {
		inst.Drop()
		L.RaiseError("wasm.load %s: %s", p, err.Error())
		return 0
	}
	inst.handle = handle

	h.log.Debug("wasm module instantiated",
		zap.Uint64("handle", h.id),
		zap.String("path", inst.path),
		zap.Int("exports", len(mod.ExportedFunctionDefinitions())))

	ud := L.NewUserData()
	ud.Value = inst
	L.SetMetatable(ud, L.GetTypeMetatable(wasmInstanceType))
	L.Push(ud)
	return 1
}

func (h *luaHandle) checkInstance(L *lua.LState) *wasmInstance {
	ud := L.CheckUserData(1)
	inst, ok := ud.Value.(*wasmInstance)
	if !ok {
		L.ArgError(1, "wasm instance expected")
		return nil
	}
	if inst.module == nil {
		L.RaiseError("wasm instance %s is closed", inst.path)
		return nil
	}
	return inst
}

// wasmCall implements inst:call(name, ...). Arguments and results are
// converted by the export's signature.
func (h *luaHandle) wasmCall(L *lua.LState) int {
	inst := h.checkInstance(L)
	name := L.CheckString(2)

	fn := inst.module.ExportedFunction(name)
	if fn == nil {
		L.RaiseError("wasm export %q not found in %s", name, inst.path)
		return 0
	}
	def := fn.Definition()

	paramTypes := def.ParamTypes()
	if got := L.GetTop() - 2; got != len(paramTypes) {
		L.RaiseError("wasm export %q expects %d arguments, got %d", name, len(paramTypes), got)
		return 0
	}
	params := make([]uint64, len(paramTypes))
	for i, vt := range paramTypes {
		params[i] = encodeWASM(vt, float64(L.CheckNumber(i+3)))
	}

	results, err := fn.Call(h.callContext(), params...)
	if err != nil {
		L.RaiseError("wasm export %q: %s", name, err.Error())
		return 0
	}
	for i, vt := range def.ResultTypes() {
		L.Push(lua.LNumber(decodeWASM(vt, results[i])))
	}
	return len(results)
}

// wasmExports implements inst:exports(), a sorted list of exported function
// names.
func (h *luaHandle) wasmExports(L *lua.LState) int {
	inst := h.checkInstance(L)
	defs := inst.module.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	tbl := L.CreateTable(len(names), 0)
	for _, name := range names {
		tbl.Append(lua.LString(name))
	}
	L.Push(tbl)
	return 1
}

func (h *luaHandle) wasmClose(L *lua.LState) int {
	ud := L.CheckUserData(1)
	inst, ok := ud.Value.(*wasmInstance)
	if !ok {
		L.ArgError(1, "wasm instance expected")
		return 0
	}
	if inst.module != nil {
		h.refs.Remove(inst.handle)
	}
	return 0
}

func encodeWASM(vt api.ValueType, n float64) uint64 {
	switch vt {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(n))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(n))
	case api.ValueTypeF64:
		return api.EncodeF64(n)
	default:
		return uint64(int64(n))
	}
}

func decodeWASM(vt api.ValueType, raw uint64) float64 {
	switch vt {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(raw))
	case api.ValueTypeF32:
		return float64(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	default:
		return float64(int64(raw))
	}
}
