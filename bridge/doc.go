// Package bridge exposes an embedded Lua engine through a small lifecycle
// API.
//
// A Bridge is created with New (or Create, which also initializes it),
// initialized with Init and released with Close. Between the two it
// forwards calls to its engine handle:
//
//	b := bridge.New(map[string]any{"limit": 10})
//	if err := b.Init(ctx); err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	if err := b.MountFile(ctx, "lib/math.lua", "return {double = function(x) return x * 2 end}"); err != nil {
//	    return err
//	}
//	out, err := b.Execute(ctx, `return require("lib.math").double(...)`, 21)
//
// Every operation other than New and Init fails with a NotInitialized error
// when no handle exists. Failures are wrapped in *errors.Error values whose
// Phase and Kind identify the operation; the engine's message is kept as the
// cause.
//
// # Arguments
//
// Execute passes arguments through the reserved global args (ArgsGlobal).
// The code becomes the body of a variadic function, so scripts read their
// arguments with "...". ExecuteFile sets args but runs the file unchanged.
//
// # Host functions
//
// RegisterHost and RegisterFunc expose Go functions to scripts as global
// tables. Exported method names are converted to snake_case:
//
//	type FS struct{}
//	func (FS) Namespace() string            { return "fs" }
//	func (FS) ReadFile(p string) string     { ... }
//
//	b.RegisterHost(FS{}) // fs.read_file("x") in Lua
//
// Registrations require host injection (the default) and are installed on
// every Init.
package bridge
