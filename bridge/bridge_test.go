package bridge

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	luabridge "github.com/wippyai/lua-bridge"
	"github.com/wippyai/lua-bridge/engine"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/value"
)

// spyEngine wraps the gopher-lua engine and counts handle releases.
type spyEngine struct {
	inner     luabridge.Engine
	createErr error
	closeErr  error
	setErr    error
	created   atomic.Int32
	closes    atomic.Int32
}

func newSpyEngine() *spyEngine {
	return &spyEngine{inner: engine.NewLuaEngine()}
}

func (e *spyEngine) NewHandle(ctx context.Context, opts luabridge.Options) (luabridge.Handle, error) {
	if e.createErr != nil {
		return nil, e.createErr
	}
	h, err := e.inner.NewHandle(ctx, opts)
	if err != nil {
		return nil, err
	}
	e.created.Add(1)
	return &spyHandle{Handle: h, engine: e}, nil
}

type spyHandle struct {
	luabridge.Handle
	engine *spyEngine
}

func (h *spyHandle) SetGlobal(name string, v value.Value) error {
	if h.engine.setErr != nil {
		return h.engine.setErr
	}
	return h.Handle.SetGlobal(name, v)
}

func (h *spyHandle) Close() error {
	h.engine.closes.Add(1)
	if err := h.Handle.Close(); err != nil {
		return err
	}
	return h.engine.closeErr
}

func newReadyBridge(t *testing.T, globals map[string]any, opts ...Option) *Bridge {
	t.Helper()
	b, err := Create(context.Background(), globals, opts...)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() {
		if b.Initialized() {
			_ = b.Close()
		}
	})
	return b
}

func execute(t *testing.T, b *Bridge, code string, args ...any) []any {
	t.Helper()
	out, err := b.Execute(context.Background(), code, args...)
	if err != nil {
		t.Fatalf("Execute(%q) failed: %v", code, err)
	}
	return value.Interfaces(out)
}

func TestBridge_NotInitialized(t *testing.T) {
	ctx := context.Background()

	ops := []struct {
		call func(b *Bridge) error
		name string
	}{
		{func(b *Bridge) error { return b.SetGlobal("x", 1) }, "SetGlobal"},
		{func(b *Bridge) error { _, err := b.GetGlobal("x"); return err }, "GetGlobal"},
		{func(b *Bridge) error { return b.SetField("t", "f", 1) }, "SetField"},
		{func(b *Bridge) error { return b.LoadModule(ctx, "m", "return 1") }, "LoadModule"},
		{func(b *Bridge) error { _, err := b.Execute(ctx, "return 1"); return err }, "Execute"},
		{func(b *Bridge) error { _, err := b.ExecuteFile(ctx, "a.lua"); return err }, "ExecuteFile"},
		{func(b *Bridge) error { return b.MountFile(ctx, "a.lua", "return 1") }, "MountFile"},
		{func(b *Bridge) error { return b.Close() }, "Close"},
	}

	for _, op := range ops {
		t.Run(op.name+"/before init", func(t *testing.T) {
			b := New(nil)
			if err := op.call(b); !stderrors.Is(err, errors.ErrNotInitialized) {
				t.Errorf("expected ErrNotInitialized, got %v", err)
			}
		})
		t.Run(op.name+"/after close", func(t *testing.T) {
			b := New(nil)
			if err := b.Init(ctx); err != nil {
				t.Fatalf("Init failed: %v", err)
			}
			if err := b.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := op.call(b); !stderrors.Is(err, errors.ErrNotInitialized) {
				t.Errorf("expected ErrNotInitialized, got %v", err)
			}
		})
	}
}

func TestBridge_DoubleClose(t *testing.T) {
	b := newReadyBridge(t, nil)

	if err := b.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	err := b.Close()
	if !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("second Close: expected ErrNotInitialized, got %v", err)
	}
}

func TestBridge_GlobalsRoundTrip(t *testing.T) {
	b := newReadyBridge(t, nil)

	tests := []struct {
		in   any
		want any
		name string
	}{
		{nil, nil, "nil"},
		{true, true, "bool"},
		{42, float64(42), "int"},
		{2.5, 2.5, "float"},
		{"hello", "hello", "string"},
		{[]any{1, "a"}, []any{float64(1), "a"}, "list"},
		{[]string{"x", "y"}, []any{"x", "y"}, "typed list"},
		{map[string]any{"x": 1, "nested": map[string]int{"y": 2}},
			map[string]any{"x": float64(1), "nested": map[string]any{"y": float64(2)}}, "map"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := b.SetGlobal("g", tc.in); err != nil {
				t.Fatalf("SetGlobal failed: %v", err)
			}
			got, err := b.GetGlobal("g")
			if err != nil {
				t.Fatalf("GetGlobal failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got.Interface()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBridge_GetGlobalReadsEngine(t *testing.T) {
	b := newReadyBridge(t, nil)

	if err := b.SetGlobal("counter", 1); err != nil {
		t.Fatalf("SetGlobal failed: %v", err)
	}
	execute(t, b, "counter = counter + 1")

	got, err := b.GetGlobal("counter")
	if err != nil {
		t.Fatalf("GetGlobal failed: %v", err)
	}
	if !got.Equal(value.Int(2)) {
		t.Errorf("GetGlobal = %v, want 2", got)
	}
}

func TestBridge_SetGlobalUnsupported(t *testing.T) {
	b := newReadyBridge(t, nil, WithHostInjection(false))

	err := b.SetGlobal("ch", make(chan int))
	if !stderrors.Is(err, errors.ErrGlobalSet) {
		t.Errorf("expected ErrGlobalSet, got %v", err)
	}
	if !stderrors.Is(err, errors.ErrUnsupported) {
		t.Errorf("expected unsupported cause, got %v", err)
	}

	// A rejected value is not replayed.
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Init(context.Background()); err != nil {
		t.Errorf("re-Init failed: %v", err)
	}
}

func TestBridge_ExecuteSimple(t *testing.T) {
	b := newReadyBridge(t, nil)

	got := execute(t, b, "return 1+1")
	if diff := cmp.Diff([]any{float64(2)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestBridge_ExecuteArgs(t *testing.T) {
	b := newReadyBridge(t, nil)

	got := execute(t, b, "return ...", 1, 2, 3)
	if diff := cmp.Diff([]any{float64(1), float64(2), float64(3)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}

	got = execute(t, b, "return select('#', ...)", 1, nil, 3)
	if diff := cmp.Diff([]any{float64(3)}, got); diff != "" {
		t.Errorf("nil argument lost (-want +got):\n%s", diff)
	}

	got = execute(t, b, "local a, b = ...; return a .. b, args.n", "x", "y")
	if diff := cmp.Diff([]any{"xy", float64(2)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestBridge_ExecuteErrors(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	for _, code := range []string{"return +", "error('boom')", "missing()"} {
		_, err := b.Execute(ctx, code)
		if !stderrors.Is(err, errors.ErrExecution) {
			t.Errorf("%q: expected ErrExecution, got %v", code, err)
		}
	}

	_, err := b.Execute(ctx, "error('boom')", 1)
	if !stderrors.Is(err, errors.ErrExecution) {
		t.Errorf("with args: expected ErrExecution, got %v", err)
	}
}

func TestBridge_ExecuteTimeout(t *testing.T) {
	b := newReadyBridge(t, nil, WithTimeout(50*time.Millisecond))

	_, err := b.Execute(context.Background(), "while true do end")
	if !stderrors.Is(err, errors.ErrExecution) {
		t.Errorf("expected ErrExecution, got %v", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded in chain, got %v", err)
	}
}

func TestBridge_ExecuteCancelled(t *testing.T) {
	b := newReadyBridge(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Execute(ctx, "for i = 1, 1e9 do end")
	if !stderrors.Is(err, errors.ErrExecution) {
		t.Errorf("expected ErrExecution, got %v", err)
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected Canceled in chain, got %v", err)
	}
}

func TestBridge_LoadModule(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	if err := b.LoadModule(ctx, "m", "loads = (loads or 0) + 1\nreturn {x = 5}"); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}

	got := execute(t, b, `
		local a = require("m")
		local b = require("m")
		return a.x, rawequal(a, b), loads`)
	if diff := cmp.Diff([]any{float64(5), true, float64(1)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestBridge_LoadModuleNilResult(t *testing.T) {
	b := newReadyBridge(t, nil)

	if err := b.LoadModule(context.Background(), "side", "x = 1"); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	got := execute(t, b, `return require("side")`)
	if diff := cmp.Diff([]any{true}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestBridge_LoadModuleOverwrite(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	for _, code := range []string{"return 1", "return 2"} {
		if err := b.LoadModule(ctx, "v", code); err != nil {
			t.Fatalf("LoadModule failed: %v", err)
		}
	}
	if got := execute(t, b, `return require("v")`); got[0] != float64(2) {
		t.Errorf("expected overwritten module, got %v", got)
	}
}

func TestBridge_LoadModuleError(t *testing.T) {
	b := newReadyBridge(t, nil)

	for _, code := range []string{"return {", "error('init failed')"} {
		err := b.LoadModule(context.Background(), "bad", code)
		if !stderrors.Is(err, errors.ErrModuleLoad) {
			t.Errorf("%q: expected ErrModuleLoad, got %v", code, err)
		}
	}
}

func TestBridge_MountFile(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	if err := b.MountFile(ctx, "a/b.lua", "return 42"); err != nil {
		t.Fatalf("MountFile failed: %v", err)
	}

	out, err := b.ExecuteFile(ctx, "a/b.lua")
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	if diff := cmp.Diff([]any{float64(42)}, value.Interfaces(out)); diff != "" {
		t.Errorf("ExecuteFile mismatch (-want +got):\n%s", diff)
	}

	got := execute(t, b, `return require("a/b.lua")`)
	if diff := cmp.Diff([]any{float64(42)}, got); diff != "" {
		t.Errorf("require mismatch (-want +got):\n%s", diff)
	}

	err = b.MountFile(ctx, "", "x")
	if !stderrors.Is(err, errors.ErrMount) {
		t.Errorf("expected ErrMount, got %v", err)
	}
}

func TestBridge_ExecuteFileArgs(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	if err := b.MountFile(ctx, "sum.lua", "return args[1] + args[2], args.n, select('#', ...)"); err != nil {
		t.Fatalf("MountFile failed: %v", err)
	}

	out, err := b.ExecuteFile(ctx, "sum.lua", 2, 3)
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	// The file is not wrapped, so ... is empty.
	if diff := cmp.Diff([]any{float64(5), float64(2), float64(0)}, value.Interfaces(out)); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}

	_, err = b.ExecuteFile(ctx, "missing.lua")
	if !stderrors.Is(err, errors.ErrExecution) {
		t.Errorf("expected ErrExecution, got %v", err)
	}
}

func TestBridge_SetField(t *testing.T) {
	b := newReadyBridge(t, nil)

	execute(t, b, "config = {}")
	if err := b.SetField("config", "debug", true); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if got := execute(t, b, "return config.debug"); got[0] != true {
		t.Errorf("config.debug = %v", got[0])
	}

	if err := b.SetField(LoadedTable, "preset", map[string]any{"x": 1}); err != nil {
		t.Fatalf("SetField on package.loaded failed: %v", err)
	}
	if got := execute(t, b, `return require("preset").x`); got[0] != float64(1) {
		t.Errorf("require(preset).x = %v", got[0])
	}

	execute(t, b, "scalar = 1")
	for _, table := range []string{"missing", "scalar"} {
		err := b.SetField(table, "f", 1)
		if !stderrors.Is(err, errors.ErrFieldSet) {
			t.Errorf("SetField(%q): expected ErrFieldSet, got %v", table, err)
		}
	}
}

func TestBridge_ReInitReplaysGlobals(t *testing.T) {
	spy := newSpyEngine()
	b := newReadyBridge(t, map[string]any{"a": 1}, WithEngine(spy))
	ctx := context.Background()

	if err := b.SetGlobal("b", "x"); err != nil {
		t.Fatalf("SetGlobal failed: %v", err)
	}
	execute(t, b, "c = 'not replayed'")

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("re-Init failed: %v", err)
	}

	got := execute(t, b, "return a, b, c")
	if diff := cmp.Diff([]any{float64(1), "x", nil}, got); diff != "" {
		t.Errorf("unexpected globals (-want +got):\n%s", diff)
	}

	// Init on a ready bridge releases the previous handle.
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if got, want := spy.closes.Load(), int32(2); got != want {
		t.Errorf("closes = %d, want %d", got, want)
	}
}

func TestBridge_InitFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("create handle", func(t *testing.T) {
		spy := newSpyEngine()
		spy.createErr = stderrors.New("no engine")

		b := New(nil, WithEngine(spy))
		err := b.Init(ctx)
		if !stderrors.Is(err, errors.ErrInitialization) {
			t.Errorf("expected ErrInitialization, got %v", err)
		}
		if b.Initialized() {
			t.Error("bridge should not be initialized")
		}
	})

	t.Run("apply global", func(t *testing.T) {
		spy := newSpyEngine()
		b := New(map[string]any{"ch": make(chan int)}, WithEngine(spy), WithHostInjection(false))

		err := b.Init(ctx)
		if !stderrors.Is(err, errors.ErrInitialization) {
			t.Errorf("expected ErrInitialization, got %v", err)
		}
		if got := spy.closes.Load(); got != spy.created.Load() {
			t.Errorf("partially created handle leaked: created %d, closed %d", spy.created.Load(), got)
		}
	})
}

func TestBridge_CloseFailure(t *testing.T) {
	spy := newSpyEngine()
	b := newReadyBridge(t, nil, WithEngine(spy))
	spy.closeErr = stderrors.New("release failed")

	err := b.Close()
	if !stderrors.Is(err, errors.ErrShutdown) {
		t.Errorf("expected ErrShutdown, got %v", err)
	}
	if b.Initialized() {
		t.Error("handle should be reset after a failed release")
	}
	if err := b.Close(); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

type point struct {
	X, Y int
}

func (p *point) Sum() int {
	return p.X + p.Y
}

func TestBridge_HostInjection(t *testing.T) {
	p := &point{X: 2, Y: 3}
	b := newReadyBridge(t, map[string]any{"p": p})

	got := execute(t, b, "p.X = 10; return p:Sum()")
	if diff := cmp.Diff([]any{float64(13)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
	if p.X != 10 {
		t.Errorf("host struct not mutated: %+v", p)
	}

	upper := func(s string) string { return s + "!" }
	got = execute(t, b, "local f = ...; return f('hi')", upper)
	if diff := cmp.Diff([]any{"hi!"}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

type mathHost struct{}

func (mathHost) Namespace() string { return "mathx" }

func (mathHost) AddInts(a, b int) int { return a + b }

func (mathHost) FormatURL(s string) string { return "http://" + s }

func TestBridge_RegisterHost(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	if err := b.RegisterHost(mathHost{}); err != nil {
		t.Fatalf("RegisterHost before Init failed: %v", err)
	}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer b.Close()

	got := execute(t, b, "return mathx.add_ints(2, 3), mathx.format_url('x')")
	if diff := cmp.Diff([]any{float64(5), "http://x"}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}

	if err := b.RegisterFunc("mathx", "neg", func(n int) int { return -n }); err != nil {
		t.Fatalf("RegisterFunc on ready bridge failed: %v", err)
	}
	if got := execute(t, b, "return mathx.neg(4), mathx.add_ints(1, 1)"); !cmp.Equal(got, []any{float64(-4), float64(2)}) {
		t.Errorf("got %v", got)
	}

	if err := b.RegisterFunc("mathx", "bad", 42); !stderrors.Is(err, errors.ErrRegistration) {
		t.Errorf("expected ErrRegistration, got %v", err)
	}
}

func TestBridge_ReInitSkipsEngineRefs(t *testing.T) {
	b := newReadyBridge(t, map[string]any{"name": "bob"})
	ctx := context.Background()

	out, err := b.Execute(ctx, "return function() return 1 end, {fn = function() end}, {n = 3}")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := b.SetGlobal("cb", out[0]); err != nil {
		t.Fatalf("SetGlobal(fn) failed: %v", err)
	}
	if err := b.SetGlobal("holder", out[1]); err != nil {
		t.Fatalf("SetGlobal(table) failed: %v", err)
	}
	if err := b.SetGlobal("plain", out[2]); err != nil {
		t.Fatalf("SetGlobal(plain table) failed: %v", err)
	}
	if got := execute(t, b, "return cb()"); !cmp.Equal(got, []any{float64(1)}) {
		t.Errorf("cb() = %v", got)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := b.Init(ctx); err != nil {
			t.Fatalf("Init %d failed: %v", i+1, err)
		}
	}

	got := execute(t, b, "return name, cb, holder, plain.n")
	if diff := cmp.Diff([]any{"bob", nil, nil, float64(3)}, got); diff != "" {
		t.Errorf("unexpected globals after re-init (-want +got):\n%s", diff)
	}
}

func TestBridge_RegisterHostWithoutInjection(t *testing.T) {
	b := newReadyBridge(t, nil, WithHostInjection(false))
	ctx := context.Background()

	if err := b.RegisterHost(mathHost{}); !stderrors.Is(err, errors.ErrRegistration) {
		t.Errorf("RegisterHost: expected ErrRegistration, got %v", err)
	}
	if err := b.RegisterFunc("mathx", "neg", func(n int) int { return -n }); !stderrors.Is(err, errors.ErrRegistration) {
		t.Errorf("RegisterFunc: expected ErrRegistration, got %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init after rejected registration failed: %v", err)
	}
	if got := execute(t, b, "return mathx"); !cmp.Equal(got, []any{nil}) {
		t.Errorf("mathx = %v, want nil", got)
	}
}

func TestBridge_RegisterHostBindFailureRollsBack(t *testing.T) {
	spy := newSpyEngine()
	b := newReadyBridge(t, nil, WithEngine(spy))

	spy.setErr = stderrors.New("set failed")
	if err := b.RegisterHost(mathHost{}); !stderrors.Is(err, errors.ErrRegistration) {
		t.Errorf("expected ErrRegistration, got %v", err)
	}
	if ns := b.hosts.Namespaces(); len(ns) != 0 {
		t.Errorf("failed registration kept: %v", ns)
	}

	spy.setErr = nil
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init after failed registration: %v", err)
	}
}

func TestBridge_Release(t *testing.T) {
	b := newReadyBridge(t, nil)

	out, err := b.Execute(context.Background(), "return function() end, {}, 1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for i, want := range []bool{true, true, false} {
		if got := b.Release(out[i]); got != want {
			t.Errorf("Release(%v) = %v, want %v", out[i], got, want)
		}
	}
	if b.Release(out[0]) {
		t.Error("second Release should report false")
	}
}

func TestBridge_ReleaseNested(t *testing.T) {
	b := newReadyBridge(t, nil)
	ctx := context.Background()

	out, err := b.Execute(ctx, "return {inner = {}, fn = function() return 1 end}")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	tbl, _ := out[0].AsTable()
	fn := tbl.Field("fn")

	if !b.Release(out[0]) {
		t.Fatal("Release should report the pinned table")
	}
	if err := b.SetGlobal("fn", fn); !stderrors.Is(err, errors.ErrStaleRef) {
		t.Errorf("nested function should be released, got %v", err)
	}
	if b.Release(out[0]) {
		t.Error("second Release should report false")
	}
}

// addWASM exports add(i32, i32) -> i32.
var addWASM = string([]byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
})

func TestBridge_WASM(t *testing.T) {
	b := newReadyBridge(t, nil, WithWASM(true))

	if err := b.MountFile(context.Background(), "add.wasm", addWASM); err != nil {
		t.Fatalf("MountFile failed: %v", err)
	}
	got := execute(t, b, `return require("wasm").load("add.wasm"):call("add", ...)`, 19, 23)
	if diff := cmp.Diff([]any{float64(42)}, got); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestRun(t *testing.T) {
	out, err := Run(context.Background(), "return 1+1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if diff := cmp.Diff([]any{float64(2)}, value.Interfaces(out)); diff != "" {
		t.Errorf("unexpected results (-want +got):\n%s", diff)
	}
}

func TestRunWith_ReleasesExactlyOnce(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		closeErr error
		wantErr  *errors.Error
		name     string
		code     string
	}{
		{name: "success", code: "return ..."},
		{name: "failure", code: "error('boom')", wantErr: errors.ErrExecution},
		{name: "close failure", code: "return 1", closeErr: stderrors.New("release failed"), wantErr: errors.ErrShutdown},
		{name: "failure wins over close failure", code: "error('boom')", closeErr: stderrors.New("release failed"), wantErr: errors.ErrExecution},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spy := newSpyEngine()
			spy.closeErr = tc.closeErr

			_, err := RunWith(ctx, []Option{WithEngine(spy)}, tc.code, 1)
			if tc.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !stderrors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			if got := spy.closes.Load(); got != 1 {
				t.Errorf("closes = %d, want 1", got)
			}
		})
	}
}

func TestWrapArgs(t *testing.T) {
	want := "return (function(...)\nreturn ...\nend)(unpack(args, 1, args.n))"
	if got := WrapArgs("return ..."); got != want {
		t.Errorf("WrapArgs = %q, want %q", got, want)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Read", "read"},
		{"ReadFile", "read_file"},
		{"FormatURL", "format_url"},
		{"HTTPServer", "http_server"},
		{"already_snake", "already_snake"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := toSnakeCase(tc.in); got != tc.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
