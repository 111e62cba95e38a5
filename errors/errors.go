package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which bridge operation produced the error
type Phase string

const (
	PhaseInit     Phase = "init"     // handle creation and globals replay
	PhaseShutdown Phase = "shutdown" // handle release
	PhaseGlobal   Phase = "global"   // global get/set
	PhaseField    Phase = "field"    // field set on a global table
	PhaseModule   Phase = "module"   // module pre-loading
	PhaseExec     Phase = "exec"     // code and file execution
	PhaseMount    Phase = "mount"    // virtual filesystem writes
	PhaseMarshal  Phase = "marshal"  // host <-> engine value conversion
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseHost     Phase = "host"     // host function registration
)

// Kind categorizes the error
type Kind string

const (
	KindNotInitialized Kind = "not_initialized"
	KindInitialization Kind = "initialization"
	KindShutdown       Kind = "shutdown"
	KindGlobalSet      Kind = "global_set"
	KindGlobalGet      Kind = "global_get"
	KindFieldSet       Kind = "field_set"
	KindModuleLoad     Kind = "module_load"
	KindExecution      Kind = "execution"
	KindMount          Kind = "mount"
	KindTypeMismatch   Kind = "type_mismatch"
	KindUnsupported    Kind = "unsupported"
	KindStaleRef       Kind = "stale_ref"
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindRegistration   Kind = "registration"
	KindResource       Kind = "resource"
)

// Sentinels for errors.Is. They carry no Phase and match by Kind only.
var (
	ErrNotInitialized = &Error{Kind: KindNotInitialized}
	ErrInitialization = &Error{Kind: KindInitialization}
	ErrShutdown       = &Error{Kind: KindShutdown}
	ErrGlobalSet      = &Error{Kind: KindGlobalSet}
	ErrGlobalGet      = &Error{Kind: KindGlobalGet}
	ErrFieldSet       = &Error{Kind: KindFieldSet}
	ErrModuleLoad     = &Error{Kind: KindModuleLoad}
	ErrExecution      = &Error{Kind: KindExecution}
	ErrMount          = &Error{Kind: KindMount}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrStaleRef       = &Error{Kind: KindStaleRef}
	ErrRegistration   = &Error{Kind: KindRegistration}
	ErrResource       = &Error{Kind: KindResource}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Name    string
	GoType  string
	LuaType string
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Name != "" {
		b.WriteString(" at ")
		b.WriteString(e.Name)
	}

	if e.GoType != "" || e.LuaType != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.LuaType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", Lua type ")
			b.WriteString(e.LuaType)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("Lua type ")
			b.WriteString(e.LuaType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.LuaType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a Phase matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Name sets the global, module, field or file name involved
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// LuaType sets the Lua type name
func (b *Builder) LuaType(t string) *Builder {
	b.err.LuaType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Bridge operation constructors

// NotInitialized creates a not-initialized error for an operation issued
// before Init or after Close
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Initialization creates a handle creation error
func Initialization(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindInitialization,
		Detail: detail,
		Cause:  cause,
	}
}

// Shutdown creates a handle release error
func Shutdown(cause error) *Error {
	return &Error{
		Phase:  PhaseShutdown,
		Kind:   KindShutdown,
		Detail: "release engine handle",
		Cause:  cause,
	}
}

// GlobalSet creates a global write error
func GlobalSet(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseGlobal,
		Kind:   KindGlobalSet,
		Name:   name,
		Detail: "set global",
		Cause:  cause,
	}
}

// GlobalGet creates a global read error
func GlobalGet(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseGlobal,
		Kind:   KindGlobalGet,
		Name:   name,
		Detail: "get global",
		Cause:  cause,
	}
}

// FieldSet creates a table field write error
func FieldSet(table, field string, cause error) *Error {
	return &Error{
		Phase:  PhaseField,
		Kind:   KindFieldSet,
		Name:   table + "." + field,
		Detail: "set field",
		Cause:  cause,
	}
}

// ModuleLoad creates a module pre-load error
func ModuleLoad(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseModule,
		Kind:   KindModuleLoad,
		Name:   name,
		Detail: "load module",
		Cause:  cause,
	}
}

// Execution creates an execution error
func Execution(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseExec,
		Kind:   KindExecution,
		Detail: detail,
		Cause:  cause,
	}
}

// Mount creates a virtual filesystem write error
func Mount(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseMount,
		Kind:   KindMount,
		Name:   path,
		Detail: "mount file",
		Cause:  cause,
	}
}

// Registration creates a host function registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Name:   namespace + "." + name,
		Detail: "register host function",
		Cause:  cause,
	}
}

// Marshalling constructors

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, name, goType, luaType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Name:    name,
		GoType:  goType,
		LuaType: luaType,
	}
}

// Unsupported creates an unsupported value error
func Unsupported(phase Phase, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		GoType: goType,
		Detail: "value cannot cross the engine boundary",
	}
}

// StaleRef creates an error for a reference used outside the handle that produced it
func StaleRef(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleRef,
		Detail: "reference does not belong to the current engine handle",
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
