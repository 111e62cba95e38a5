package bridge

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	luabridge "github.com/wippyai/lua-bridge"
	"github.com/wippyai/lua-bridge/errors"
	"github.com/wippyai/lua-bridge/value"
)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are exposed to scripts as
// functions of a global table named by Namespace.
type Host interface {
	// Namespace returns the global table name (e.g., "fs").
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact Lua function names
// when automatic PascalCase-to-snake_case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]any
}

// HostRegistry collects host functions by namespace. Its contents are
// installed into every handle the owning bridge creates.
type HostRegistry struct {
	funcs map[string]map[string]any
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]any),
	}
}

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[ns] == nil {
		r.funcs[ns] = make(map[string]any)
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, handler := range er.Register() {
			if reflect.ValueOf(handler).Kind() != reflect.Func {
				return errors.Registration(ns, name, notAFunction(handler))
			}
			r.funcs[ns][name] = handler
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		r.funcs[ns][toSnakeCase(method.Name)] = rv.Method(i).Interface()
	}

	return nil
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	if reflect.ValueOf(fn).Kind() != reflect.Func {
		return errors.Registration(namespace, name, notAFunction(fn))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]any)
	}
	r.funcs[namespace][name] = fn
	return nil
}

// Namespaces returns the registered namespaces in sorted order.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for ns := range r.funcs {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// Functions returns the function names of a namespace in sorted order.
func (r *HostRegistry) Functions(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs[namespace]))
	for name := range r.funcs[namespace] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// snapshot copies the functions of a namespace, nil if it is not
// registered.
func (r *HostRegistry) snapshot(namespace string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funcs, ok := r.funcs[namespace]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(funcs))
	for name, fn := range funcs {
		out[name] = fn
	}
	return out
}

// restore puts back a namespace taken by snapshot. A nil snapshot removes
// the namespace.
func (r *HostRegistry) restore(namespace string, funcs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if funcs == nil {
		delete(r.funcs, namespace)
		return
	}
	r.funcs[namespace] = funcs
}

// bind installs one namespace as a global table of host functions.
func (r *HostRegistry) bind(h luabridge.Handle, namespace string) error {
	r.mu.RLock()
	tbl := value.NewTable()
	for name, fn := range r.funcs[namespace] {
		tbl.SetField(name, value.HostRef(fn))
	}
	r.mu.RUnlock()

	if err := h.SetGlobal(namespace, value.FromTable(tbl)); err != nil {
		return errors.Registration(namespace, "*", err)
	}
	return nil
}

// bindAll installs every namespace.
func (r *HostRegistry) bindAll(h luabridge.Handle) error {
	for _, ns := range r.Namespaces() {
		if err := r.bind(h, ns); err != nil {
			return err
		}
	}
	return nil
}

func notAFunction(v any) error {
	return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
		GoType(fmt.Sprintf("%T", v)).
		Detail("handler must be a function").
		Build()
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: HTTPServer -> http_server
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
