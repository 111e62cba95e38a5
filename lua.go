package luabridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/lua-bridge/value"
)

// DefaultTimeout bounds every call into the engine unless overridden.
const DefaultTimeout = 1000 * time.Millisecond

// Options configure a new engine handle.
type Options struct {
	// Logger receives handle lifecycle events. Nil means the engine's
	// package logger.
	Logger *zap.Logger

	// Timeout is the hard execution limit applied to every evaluation.
	// Zero means DefaultTimeout.
	Timeout time.Duration

	// StandardLibs opens the full standard library. When false only the
	// base, package and table libraries are opened.
	StandardLibs bool

	// HostInjection lets host Go values (structs, functions, maps with
	// non-string keys) be injected as userdata via value.HostRef.
	HostInjection bool

	// EnableWASM preloads the "wasm" Lua module for running core
	// WebAssembly modules from the virtual filesystem.
	EnableWASM bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		StandardLibs:  true,
		HostInjection: true,
	}
}

// Engine creates isolated interpreter handles.
type Engine interface {
	NewHandle(ctx context.Context, opts Options) (Handle, error)
}

// Handle is one exclusively-owned interpreter instance.
// Implementations are not safe for concurrent use.
type Handle interface {
	// SetGlobal writes v into the global namespace.
	SetGlobal(name string, v value.Value) error

	// GetGlobal reads a global from the engine.
	GetGlobal(name string) (value.Value, error)

	// ResolveTable looks up a global table. Dotted names walk nested tables.
	ResolveTable(name string) (Table, error)

	// EvalString runs code and returns every value it returns.
	EvalString(ctx context.Context, code string) ([]value.Value, error)

	// EvalFile runs a file from the virtual filesystem.
	EvalFile(ctx context.Context, path string) ([]value.Value, error)

	// MountFile writes content into the virtual filesystem.
	MountFile(ctx context.Context, path string, content []byte) error

	// Release unpins an engine reference. It reports whether r was pinned
	// by this handle.
	Release(r *value.Ref) bool

	// Close releases the interpreter and every pinned reference.
	Close() error
}

// Table is a table living inside the engine.
type Table interface {
	SetField(name string, v value.Value) error
}
