// Package errors provides structured error types for the lua-bridge library.
//
// Errors are categorized by Phase (which bridge operation failed) and Kind
// (error category). The Error type carries the offending name, Go/Lua type
// names and the cause chain. Every bridge failure keeps the message of the
// underlying engine error and prefixes it with the phase and kind:
//
//	[exec] execution: execute code (caused by: <string>:1: attempt to call a nil value)
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseGlobal, errors.KindGlobalSet).
//		Name("config").
//		GoType("chan int").
//		Detail("cannot marshal value").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Execution("execute code", cause)
//	err := errors.NotInitialized(errors.PhaseMount, "bridge")
//
// Sentinels (ErrNotInitialized, ErrExecution, ...) match any error of the
// same Kind regardless of Phase:
//
//	if errors.Is(err, errors.ErrNotInitialized) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
