// Package luabridge provides a thin bridge to an embedded Lua engine.
//
// The bridge initializes an isolated Lua state, moves globals in and out,
// pre-loads modules, executes code and files, and mounts files into a private
// virtual filesystem. It adds no semantics of its own: every operation
// forwards to the engine capability and reports failures with an
// operation-identifying prefix.
//
// # Architecture Overview
//
//	luabridge/           Root package with the Engine, Handle and Table interfaces
//	├── bridge/          Bridge lifecycle and forwarding API, Create and Run helpers
//	├── engine/          gopher-lua implementation of the engine capability
//	├── value/           Tagged union used at the host/engine boundary
//	├── resource/        Handle table pinning engine-side references
//	├── errors/          Structured error types
//	├── config/          YAML and .env configuration
//	└── cmd/luarun/      Command line runner and REPL
//
// # Quick Start
//
//	b, err := bridge.Create(ctx, map[string]any{"greeting": "hello"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	out, err := b.Execute(ctx, "return greeting .. ', ' .. ...", "world")
//	fmt.Println(value.First(out)) // hello, world
//
// One-shot execution with guaranteed release:
//
//	out, err := bridge.Run(ctx, "return 1 + 1")
//
// # Thread Safety
//
// A Bridge serializes its operations; one logical caller should drive it.
// The shared global namespace and the reserved args global make interleaved
// use from several callers unpredictable even though it is memory safe.
package luabridge
