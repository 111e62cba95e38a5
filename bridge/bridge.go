package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	luabridge "github.com/wippyai/lua-bridge"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/value"
)

// ArgsGlobal is the reserved global that receives the arguments of Execute
// and ExecuteFile. It is overwritten on every call that passes arguments.
// The table is a sequence of the arguments plus a field n holding their
// count, so nil arguments survive unpacking.
const ArgsGlobal = "args"

// LoadedTable is the module cache consulted by require.
const LoadedTable = "package.loaded"

// Bridge owns one engine handle and forwards operations to it.
//
// A Bridge is usable after Init and until Close. It may be initialized
// again after Close; globals set through it are replayed into the new
// handle.
type Bridge struct {
	engine  luabridge.Engine
	handle  luabridge.Handle
	globals map[string]any
	hosts   *HostRegistry
	log     *zap.Logger
	opts    luabridge.Options
	mu      sync.Mutex
}

// New stores globals for later application. It does not touch the engine.
func New(globals map[string]any, opts ...Option) *Bridge {
	s := newSettings(opts)

	log := s.opts.Logger
	if log == nil {
		log = Logger()
	}

	g := make(map[string]any, len(globals))
	for name, v := range globals {
		g[name] = v
	}

	return &Bridge{
		engine:  s.engine,
		globals: g,
		hosts:   NewHostRegistry(),
		log:     log,
		opts:    s.opts,
	}
}

// Create constructs a bridge and initializes it.
func Create(ctx context.Context, globals map[string]any, opts ...Option) (*Bridge, error) {
	b := New(globals, opts...)
	if err := b.Init(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Init creates a fresh engine handle and applies the stored globals and
// host functions to it. A handle left by a previous Init is released first.
func (b *Bridge) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle != nil {
		if err := b.handle.Close(); err != nil {
			b.log.Warn("release previous engine handle", zap.Error(err))
		}
		b.handle = nil
	}

	h, err := b.engine.NewHandle(ctx, b.opts)
	if err != nil {
		return errors.Initialization("create engine handle", err)
	}

	for _, name := range b.globalNames() {
		if err := b.applyGlobal(h, name, b.globals[name]); err != nil {
			_ = h.Close()
			return errors.Initialization(fmt.Sprintf("apply global %q", name), err)
		}
	}
	if err := b.hosts.bindAll(h); err != nil {
		_ = h.Close()
		return errors.Initialization("bind host functions", err)
	}

	b.handle = h
	b.log.Debug("bridge initialized",
		zap.Int("globals", len(b.globals)),
		zap.Strings("hosts", b.hosts.Namespaces()))
	return nil
}

// Close releases the engine handle. The handle is dropped even when the
// release fails; a second Close reports NotInitialized.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return errors.NotInitialized(errors.PhaseShutdown, "bridge")
	}
	h := b.handle
	b.handle = nil

	if err := h.Close(); err != nil {
		return errors.Shutdown(err)
	}
	b.log.Debug("bridge closed")
	return nil
}

// Initialized reports whether the bridge holds an engine handle.
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle != nil
}

// SetGlobal writes v into the engine under name and remembers it for
// replay on a later Init. Values holding engine references, such as a
// function returned by Execute, are set but not remembered.
func (b *Bridge) SetGlobal(name string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return errors.NotInitialized(errors.PhaseGlobal, "bridge")
	}
	gv, err := b.toValue(v)
	if err != nil {
		return errors.GlobalSet(name, err)
	}
	if err := b.handle.SetGlobal(name, gv); err != nil {
		return errors.GlobalSet(name, err)
	}

	if n := unreplayable(gv); n > 0 {
		delete(b.globals, name)
		b.log.Warn("global holds engine references and will not survive re-init",
			zap.String("global", name),
			zap.Int("refs", n))
		return nil
	}
	b.globals[name] = v
	return nil
}

// GetGlobal reads a global from the engine, not from the replay cache.
func (b *Bridge) GetGlobal(name string) (value.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return value.Nil, errors.NotInitialized(errors.PhaseGlobal, "bridge")
	}
	v, err := b.handle.GetGlobal(name)
	if err != nil {
		return value.Nil, errors.GlobalGet(name, err)
	}
	return v, nil
}

// SetField sets one field of a global table. Dotted table names walk nested
// tables, e.g. "package.loaded".
func (b *Bridge) SetField(table, field string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return errors.NotInitialized(errors.PhaseField, "bridge")
	}
	tbl, err := b.handle.ResolveTable(table)
	if err != nil {
		return errors.FieldSet(table, field, err)
	}
	fv, err := b.toValue(v)
	if err != nil {
		return errors.FieldSet(table, field, err)
	}
	if err := tbl.SetField(field, fv); err != nil {
		return errors.FieldSet(table, field, err)
	}
	return nil
}

// LoadModule evaluates code as the body of a function and stores its first
// result in package.loaded[name], so require(name) returns it without
// running code again. A nil result is stored as true. An existing entry is
// silently replaced.
func (b *Bridge) LoadModule(ctx context.Context, name, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return errors.NotInitialized(errors.PhaseModule, "bridge")
	}

	out, err := b.handle.EvalString(ctx, wrapModule(code))
	if err != nil {
		return errors.ModuleLoad(name, err)
	}
	mod := value.First(out)
	if mod.IsNil() {
		mod = value.Bool(true)
	}

	loaded, err := b.handle.ResolveTable(LoadedTable)
	if err != nil {
		return errors.ModuleLoad(name, err)
	}
	if err := loaded.SetField(name, mod); err != nil {
		return errors.ModuleLoad(name, err)
	}

	b.log.Debug("module loaded", zap.String("module", name), zap.Stringer("kind", mod.Kind()))
	return nil
}

// Execute runs code and returns every value it returns. When args are given
// they are stored in the args global and code runs as the body of a
// variadic function receiving them.
func (b *Bridge) Execute(ctx context.Context, code string, args ...any) ([]value.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return nil, errors.NotInitialized(errors.PhaseExec, "bridge")
	}
	if len(args) > 0 {
		if err := b.setArgs(args); err != nil {
			return nil, errors.Execution("set arguments", err)
		}
		code = WrapArgs(code)
	}

	out, err := b.handle.EvalString(ctx, code)
	if err != nil {
		return nil, errors.Execution("execute code", err)
	}
	return out, nil
}

// ExecuteFile runs a file from the virtual filesystem. Arguments are stored
// in the args global, but the file is not wrapped: it reads args itself.
func (b *Bridge) ExecuteFile(ctx context.Context, path string, args ...any) ([]value.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return nil, errors.NotInitialized(errors.PhaseExec, "bridge")
	}
	if len(args) > 0 {
		if err := b.setArgs(args); err != nil {
			return nil, errors.Execution("set arguments", err)
		}
	}

	out, err := b.handle.EvalFile(ctx, path)
	if err != nil {
		return nil, errors.Execution("execute file "+path, err)
	}
	return out, nil
}

// MountFile writes content into the virtual filesystem at path, where
// require, dofile and ExecuteFile can find it.
func (b *Bridge) MountFile(ctx context.Context, path, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return errors.NotInitialized(errors.PhaseMount, "bridge")
	}
	if err := b.handle.MountFile(ctx, path, []byte(content)); err != nil {
		return errors.Mount(path, err)
	}
	return nil
}

// Release unpins every engine value reachable from v: v itself when it is
// an engine reference, and for tables the lifted table, its nested tables
// and every reference they hold. It reports whether anything was released;
// values holding no engine references report false.
func (b *Bridge) Release(v value.Value) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return false
	}
	released := false
	for _, r := range value.EngineRefs(v) {
		if b.handle.Release(r) {
			released = true
		}
	}
	return released
}

// RegisterHost exposes the exported methods of h as the global table
// h.Namespace(). Registrations survive Close and are installed on every
// Init. Host injection must be enabled. A registration that cannot be bound
// to the current handle is rolled back.
func (b *Bridge) RegisterHost(h Host) error {
	ns := h.Namespace()
	if err := b.checkHostInjection(ns, "*"); err != nil {
		return err
	}
	prev := b.hosts.snapshot(ns)
	if err := b.hosts.RegisterHost(h); err != nil {
		b.hosts.restore(ns, prev)
		return err
	}
	return b.bindHost(ns, prev)
}

// RegisterFunc exposes fn as namespace.name.
func (b *Bridge) RegisterFunc(namespace, name string, fn any) error {
	if err := b.checkHostInjection(namespace, name); err != nil {
		return err
	}
	prev := b.hosts.snapshot(namespace)
	if err := b.hosts.RegisterFunc(namespace, name, fn); err != nil {
		return err
	}
	return b.bindHost(namespace, prev)
}

func (b *Bridge) checkHostInjection(namespace, name string) error {
	if b.opts.HostInjection {
		return nil
	}
	return errors.Registration(namespace, name, errors.New(errors.PhaseHost, errors.KindUnsupported).
		Detail("host injection is disabled").
		Build())
}

func (b *Bridge) bindHost(namespace string, prev map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handle == nil {
		return nil
	}
	if err := b.hosts.bind(b.handle, namespace); err != nil {
		b.hosts.restore(namespace, prev)
		return err
	}
	return nil
}

// unreplayable counts the engine refs in v that die with the handle. Table
// origins are not counted, since a table replays as a copy of its contents.
func unreplayable(v value.Value) int {
	n := 0
	for _, r := range value.EngineRefs(v) {
		if r.Type() != "table" {
			n++
		}
	}
	return n
}

func (b *Bridge) globalNames() []string {
	names := make([]string, 0, len(b.globals))
	for name := range b.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bridge) applyGlobal(h luabridge.Handle, name string, v any) error {
	gv, err := b.toValue(v)
	if err != nil {
		return err
	}
	return h.SetGlobal(name, gv)
}

// toValue converts host data for the engine. With host injection enabled,
// values without a table or scalar form are injected as host objects.
func (b *Bridge) toValue(v any) (value.Value, error) {
	if b.opts.HostInjection {
		return value.OfHost(v)
	}
	return value.Of(v)
}

func (b *Bridge) setArgs(args []any) error {
	t := value.NewTable()
	for i, a := range args {
		av, err := b.toValue(a)
		if err != nil {
			return err
		}
		if err := t.Set(value.Int(int64(i+1)), av); err != nil {
			return err
		}
	}
	t.SetField("n", value.Int(int64(len(args))))
	return b.handle.SetGlobal(ArgsGlobal, value.FromTable(t))
}

// WrapArgs turns code into the body of a variadic function called with the
// contents of the args global.
func WrapArgs(code string) string {
	return fmt.Sprintf("return (function(...)\n%s\nend)(unpack(%s, 1, %s.n))", code, ArgsGlobal, ArgsGlobal)
}

func wrapModule(code string) string {
	return "return (function()\n" + code + "\nend)()"
}
