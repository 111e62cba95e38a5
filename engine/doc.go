// Package engine implements the luabridge engine capability on gopher-lua.
//
// # Architecture
//
//	LuaEngine  - Creates isolated handles; stateless and safe for concurrent use
//	luaHandle  - One *lua.LState plus its virtual filesystem, pinned references
//	             and optional wazero runtime
//
// # Value Marshalling
//
// Values cross the boundary as value.Value:
//
//	Lua type                   value.Kind     Notes
//	───────────────────────────────────────────────────────────────
//	nil                        KindNil
//	boolean                    KindBool
//	number                     KindNumber     float64
//	string                     KindString
//	table                      KindTable      copied; remembers its origin
//	function, userdata,        KindRef        pinned in the handle's
//	thread, channel                           resource table
//
// An unmodified table snapshot written back into the handle it came from
// re-injects the original table. Host refs (value.HostRef) are injected with
// gopher-luar when Options.HostInjection is set.
//
// # Timeouts
//
// Every evaluation runs under context.WithTimeout(ctx, Options.Timeout) bound
// to the state with SetContext. A timed out call fails with an error that
// matches context.DeadlineExceeded.
//
// # Virtual Filesystem
//
// Each handle owns a go-billy in-memory filesystem. dofile, loadfile and the
// package file searcher read only from it; the host filesystem is never
// consulted for code. require searches the exact name first, then
// package.path (default "?.lua;?/init.lua") with dots mapped to slashes.
//
// # WASM Library
//
// With Options.EnableWASM, scripts can run core WebAssembly modules stored in
// the virtual filesystem:
//
//	local wasm = require("wasm")
//	local m = wasm.load("/lib/math.wasm")
//	print(m:call("add", 2, 3))
//	m:close()
//
// Numeric parameters and results map to i32, i64, f32 and f64.
//
// # Thread Safety
//
// LuaEngine is safe for concurrent use. Handles are NOT thread-safe and must
// be driven by a single goroutine at a time.
package engine
