package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/lua-bridge/errors"
)

// vfs is the in-memory filesystem a handle resolves require, dofile and
// loadfile against. The host filesystem is never consulted.
type vfs struct {
	fs billy.Filesystem
}

func newVFS() *vfs {
	return &vfs{fs: memfs.New()}
}

// cleanPath maps a Lua-visible path onto the filesystem root. Relative and
// absolute spellings of the same file resolve to the same entry.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

func (v *vfs) write(p string, content []byte) error {
	name := cleanPath(p)
	if name == "/" {
		return errors.InvalidInput(errors.PhaseMount, "empty file path")
	}
	if dir := path.Dir(name); dir != "/" {
		if err := v.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return util.WriteFile(v.fs, name, content, 0o644)
}

func (v *vfs) read(p string) ([]byte, error) {
	name := cleanPath(p)
	f, err := v.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseExec, "file", p)
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (v *vfs) exists(p string) bool {
	fi, err := v.fs.Stat(cleanPath(p))
	return err == nil && !fi.IsDir()
}

// search resolves a module name the way package.path templates do. The name
// itself is tried first so that require("a/b.lua") finds a file mounted at
// a/b.lua.
func (v *vfs) search(name, templates string) (string, []string) {
	if v.exists(name) {
		return cleanPath(name), nil
	}

	modPath := strings.ReplaceAll(name, ".", "/")
	tried := []string{cleanPath(name)}
	for _, tmpl := range strings.Split(templates, ";") {
		if tmpl == "" {
			continue
		}
		candidate := strings.ReplaceAll(tmpl, "?", modPath)
		if v.exists(candidate) {
			return cleanPath(candidate), nil
		}
		tried = append(tried, cleanPath(candidate))
	}
	return "", tried
}

func (v *vfs) load(L *lua.LState, p string) (*lua.LFunction, error) {
	src, err := v.read(p)
	if err != nil {
		return nil, err
	}
	return L.Load(bytes.NewReader(src), cleanPath(p))
}

// install routes require, dofile and loadfile through the filesystem, and
// the file functions of io and os when those libraries are open.
func (v *vfs) install(L *lua.LState) error {
	pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable)
	if !ok {
		return fmt.Errorf("package library not loaded")
	}
	L.SetField(pkg, "path", lua.LString(DefaultSearchPath))

	loaders, ok := L.GetField(pkg, "loaders").(*lua.LTable)
	if !ok {
		return fmt.Errorf("package.loaders is not a table")
	}
	loaders.RawSetInt(2, L.NewFunction(v.luaLoader))

	L.SetGlobal("dofile", L.NewFunction(v.luaDofile))
	L.SetGlobal("loadfile", L.NewFunction(v.luaLoadfile))
	v.installIO(L)
	return nil
}

func (v *vfs) luaLoader(L *lua.LState) int {
	name := L.CheckString(1)

	templates := DefaultSearchPath
	if pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable); ok {
		if s, ok := L.GetField(pkg, "path").(lua.LString); ok {
			templates = string(s)
		}
	}

	found, tried := v.search(name, templates)
	if found == "" {
		var b strings.Builder
		for _, t := range tried {
			b.WriteString("\n\tno file '")
			b.WriteString(t)
			b.WriteByte('\'')
		}
		L.Push(lua.LString(b.String()))
		return 1
	}

	fn, err := v.load(L, found)
	if err != nil {
		L.RaiseError("error loading module '%s' from file '%s':\n\t%s", name, found, err.Error())
		return 0
	}
	L.Push(fn)
	return 1
}

func (v *vfs) luaDofile(L *lua.LState) int {
	name := L.CheckString(1)
	fn, err := v.load(L, name)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}

	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

func (v *vfs) luaLoadfile(L *lua.LState) int {
	name := L.CheckString(1)
	fn, err := v.load(L, name)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(fn)
	return 1
}
