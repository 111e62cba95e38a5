package engine

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

const vfsFileType = "vfs.file"

// Functions that reach the host process or its filesystem and have no
// in-memory counterpart.
var (
	removedIOFuncs = []string{"popen"}
	removedOSFuncs = []string{"execute", "exit", "setenv"}
)

// vfsFile is an open file of the virtual filesystem. Its content is held in
// memory and written back on every write, so other handles on the same path
// and require see the change at once.
type vfsFile struct {
	name      string
	data      []byte
	pos       int
	readable  bool
	writable  bool
	appending bool
	closed    bool
}

// vfsIO replaces the file parts of the io and os libraries with versions
// backed by the virtual filesystem.
type vfsIO struct {
	v      *vfs
	input  *vfsFile
	output *vfsFile
	stdout lua.LValue
	ioType lua.LValue
	tmpSeq int
}

func (v *vfs) installIO(L *lua.LState) {
	x := &vfsIO{v: v}

	mt := L.NewTypeMetatable(vfsFileType)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":    x.fileRead,
		"write":   x.fileWrite,
		"lines":   x.fileLines,
		"seek":    x.fileSeek,
		"flush":   x.fileFlush,
		"setvbuf": x.fileFlush,
		"close":   x.fileClose,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(x.fileToString))

	if io, ok := L.GetGlobal(lua.IoLibName).(*lua.LTable); ok {
		x.stdout = L.GetField(io, "write")
		x.ioType = L.GetField(io, "type")
		L.SetFuncs(io, map[string]lua.LGFunction{
			"open":    x.ioOpen,
			"lines":   x.ioLines,
			"input":   x.ioInput,
			"output":  x.ioOutput,
			"read":    x.ioRead,
			"write":   x.ioWrite,
			"close":   x.ioClose,
			"type":    x.ioTypeOf,
			"tmpfile": x.ioTmpfile,
		})
		for _, name := range removedIOFuncs {
			io.RawSetString(name, lua.LNil)
		}
	}

	if osTbl, ok := L.GetGlobal(lua.OsLibName).(*lua.LTable); ok {
		L.SetFuncs(osTbl, map[string]lua.LGFunction{
			"remove":  x.osRemove,
			"rename":  x.osRename,
			"tmpname": x.osTmpname,
		})
		for _, name := range removedOSFuncs {
			osTbl.RawSetString(name, lua.LNil)
		}
	}
}

// open follows fopen modes: r, w and a, each optionally with + and b.
func (x *vfsIO) open(name, mode string) (*vfsFile, error) {
	m := strings.ReplaceAll(mode, "b", "")
	plus := strings.HasSuffix(m, "+")
	m = strings.TrimSuffix(m, "+")

	f := &vfsFile{name: cleanPath(name)}
	switch m {
	case "r":
		data, err := x.v.read(name)
		if err != nil {
			return nil, err
		}
		f.data, f.readable, f.writable = data, true, plus
	case "w":
		if err := x.v.write(name, nil); err != nil {
			return nil, err
		}
		f.writable, f.readable = true, plus
	case "a":
		if x.v.exists(name) {
			data, err := x.v.read(name)
			if err != nil {
				return nil, err
			}
			f.data = data
		} else if err := x.v.write(name, nil); err != nil {
			return nil, err
		}
		f.writable, f.appending, f.readable = true, true, plus
		f.pos = len(f.data)
	default:
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
	return f, nil
}

func (x *vfsIO) push(L *lua.LState, f *vfsFile) {
	ud := L.NewUserData()
	ud.Value = f
	L.SetMetatable(ud, L.GetTypeMetatable(vfsFileType))
	L.Push(ud)
}

func fileFrom(lv lua.LValue) (*vfsFile, bool) {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	f, ok := ud.Value.(*vfsFile)
	return f, ok
}

func (x *vfsIO) checkFile(L *lua.LState, n int) *vfsFile {
	f, ok := fileFrom(L.Get(n))
	if !ok {
		L.ArgError(n, "file expected")
		return nil
	}
	if f.closed {
		L.RaiseError("attempt to use a closed file")
		return nil
	}
	return f
}

// fail pushes the nil, message pair io functions return on errors.
func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func (x *vfsIO) ioOpen(L *lua.LState) int {
	name := L.CheckString(1)
	f, err := x.open(name, L.OptString(2, "r"))
	if err != nil {
		return fail(L, fmt.Errorf("%s: %w", name, err))
	}
	x.push(L, f)
	return 1
}

func (x *vfsIO) ioLines(L *lua.LState) int {
	if L.GetTop() == 0 || L.Get(1) == lua.LNil {
		if x.input == nil {
			L.RaiseError("no default input file")
			return 0
		}
		L.Push(L.NewFunction(x.linesIter(x.input, false)))
		return 1
	}
	name := L.CheckString(1)
	f, err := x.open(name, "r")
	if err != nil {
		L.RaiseError("%s: %s", name, err.Error())
		return 0
	}
	L.Push(L.NewFunction(x.linesIter(f, true)))
	return 1
}

func (x *vfsIO) linesIter(f *vfsFile, closeAtEOF bool) lua.LGFunction {
	return func(L *lua.LState) int {
		if f.closed {
			L.RaiseError("file is already closed")
			return 0
		}
		line, ok := f.readLine(false)
		if !ok {
			if closeAtEOF {
				f.closed = true
			}
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(line))
		return 1
	}
}

func (x *vfsIO) ioInput(L *lua.LState) int {
	switch arg := L.Get(1).(type) {
	case lua.LString:
		f, err := x.open(string(arg), "r")
		if err != nil {
			L.RaiseError("%s: %s", string(arg), err.Error())
			return 0
		}
		x.input = f
	case *lua.LUserData:
		x.input = x.checkFile(L, 1)
	}
	return x.pushDefault(L, x.input)
}

func (x *vfsIO) ioOutput(L *lua.LState) int {
	switch arg := L.Get(1).(type) {
	case lua.LString:
		f, err := x.open(string(arg), "w")
		if err != nil {
			L.RaiseError("%s: %s", string(arg), err.Error())
			return 0
		}
		x.output = f
	case *lua.LUserData:
		x.output = x.checkFile(L, 1)
	}
	return x.pushDefault(L, x.output)
}

func (x *vfsIO) pushDefault(L *lua.LState, f *vfsFile) int {
	if f == nil {
		L.Push(lua.LNil)
		return 1
	}
	x.push(L, f)
	return 1
}

func (x *vfsIO) ioRead(L *lua.LState) int {
	if x.input == nil {
		L.RaiseError("no default input file")
		return 0
	}
	return x.read(L, x.input, 1)
}

// ioWrite writes to the default output file, or to standard output while
// none is set.
func (x *vfsIO) ioWrite(L *lua.LState) int {
	if x.output == nil || x.output.closed {
		args := make([]lua.LValue, L.GetTop())
		for i := range args {
			args[i] = L.Get(i + 1)
		}
		L.Push(x.stdout)
		for _, a := range args {
			L.Push(a)
		}
		L.Call(len(args), 1)
		return 1
	}
	if n := x.write(L, x.output, 1); n > 0 {
		return n
	}
	x.push(L, x.output)
	return 1
}

func (x *vfsIO) ioClose(L *lua.LState) int {
	if L.GetTop() == 0 {
		if x.output == nil {
			L.RaiseError("no default output file")
			return 0
		}
		x.output.closed = true
		L.Push(lua.LTrue)
		return 1
	}
	return x.fileClose(L)
}

func (x *vfsIO) ioTypeOf(L *lua.LState) int {
	if f, ok := fileFrom(L.Get(1)); ok {
		if f.closed {
			L.Push(lua.LString("closed file"))
		} else {
			L.Push(lua.LString("file"))
		}
		return 1
	}
	L.Push(x.ioType)
	L.Push(L.Get(1))
	L.Call(1, 1)
	return 1
}

func (x *vfsIO) tmpName() string {
	for {
		x.tmpSeq++
		name := "/tmp/lua_" + strconv.Itoa(x.tmpSeq)
		if !x.v.exists(name) {
			return name
		}
	}
}

func (x *vfsIO) ioTmpfile(L *lua.LState) int {
	f, err := x.open(x.tmpName(), "w+")
	if err != nil {
		return fail(L, err)
	}
	x.push(L, f)
	return 1
}

func (x *vfsIO) osTmpname(L *lua.LState) int {
	name := x.tmpName()
	if err := x.v.write(name, nil); err != nil {
		L.RaiseError("unable to generate a unique filename: %s", err.Error())
		return 0
	}
	L.Push(lua.LString(name))
	return 1
}

func (x *vfsIO) osRemove(L *lua.LState) int {
	name := L.CheckString(1)
	p := cleanPath(name)
	if _, err := x.v.fs.Stat(p); err != nil {
		return fail(L, fmt.Errorf("%s: %w", name, os.ErrNotExist))
	}
	if err := x.v.fs.Remove(p); err != nil {
		return fail(L, fmt.Errorf("%s: %w", name, err))
	}
	L.Push(lua.LTrue)
	return 1
}

func (x *vfsIO) osRename(L *lua.LState) int {
	from, to := L.CheckString(1), L.CheckString(2)
	if err := x.v.fs.Rename(cleanPath(from), cleanPath(to)); err != nil {
		return fail(L, fmt.Errorf("%s: %w", from, err))
	}
	L.Push(lua.LTrue)
	return 1
}

func (x *vfsIO) fileRead(L *lua.LState) int {
	return x.read(L, x.checkFile(L, 1), 2)
}

func (x *vfsIO) fileWrite(L *lua.LState) int {
	if n := x.write(L, x.checkFile(L, 1), 2); n > 0 {
		return n
	}
	L.Push(L.Get(1))
	return 1
}

func (x *vfsIO) fileLines(L *lua.LState) int {
	L.Push(L.NewFunction(x.linesIter(x.checkFile(L, 1), false)))
	return 1
}

func (x *vfsIO) fileSeek(L *lua.LState) int {
	f := x.checkFile(L, 1)
	whence := L.OptString(2, "cur")
	offset := L.OptInt(3, 0)

	var base int
	switch whence {
	case "set":
	case "cur":
		base = f.pos
	case "end":
		base = len(f.data)
	default:
		L.ArgError(2, "invalid option '"+whence+"'")
		return 0
	}
	pos := base + offset
	if pos < 0 {
		return fail(L, fmt.Errorf("%s: invalid seek position", f.name))
	}
	f.pos = pos
	L.Push(lua.LNumber(pos))
	return 1
}

func (x *vfsIO) fileFlush(L *lua.LState) int {
	x.checkFile(L, 1)
	L.Push(lua.LTrue)
	return 1
}

func (x *vfsIO) fileClose(L *lua.LState) int {
	f := x.checkFile(L, 1)
	f.closed = true
	L.Push(lua.LTrue)
	return 1
}

func (x *vfsIO) fileToString(L *lua.LState) int {
	f, _ := fileFrom(L.Get(1))
	if f == nil || f.closed {
		L.Push(lua.LString("file (closed)"))
		return 1
	}
	L.Push(lua.LString("file (" + f.name + ")"))
	return 1
}

// read implements file:read for the formats n, a, l and L (with or without
// the leading "*") and byte counts. The first argument is at index first.
func (x *vfsIO) read(L *lua.LState, f *vfsFile, first int) int {
	if !f.readable {
		return fail(L, fmt.Errorf("%s: file not opened for reading", f.name))
	}

	top := L.GetTop()
	if top < first {
		return pushLine(L, f, false)
	}
	for i := first; i <= top; i++ {
		switch arg := L.Get(i).(type) {
		case lua.LNumber:
			pushBytes(L, f, int(arg))
		case lua.LString:
			switch strings.TrimPrefix(string(arg), "*") {
			case "n":
				pushNumber(L, f)
			case "a":
				L.Push(lua.LString(f.data[min(f.pos, len(f.data)):]))
				f.pos = max(f.pos, len(f.data))
			case "l":
				pushLine(L, f, false)
			case "L":
				pushLine(L, f, true)
			default:
				L.ArgError(i, "invalid format")
				return 0
			}
		default:
			L.ArgError(i, "invalid format")
			return 0
		}
		// Reading stops at the first format that fails.
		if L.Get(-1) == lua.LNil {
			return i - first + 1
		}
	}
	return top - first + 1
}

func pushLine(L *lua.LState, f *vfsFile, keepNewline bool) int {
	line, ok := f.readLine(keepNewline)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(line))
	return 1
}

func pushBytes(L *lua.LState, f *vfsFile, n int) int {
	if f.pos >= len(f.data) {
		L.Push(lua.LNil)
		return 1
	}
	end := min(f.pos+max(n, 0), len(f.data))
	L.Push(lua.LString(f.data[f.pos:end]))
	f.pos = end
	return 1
}

func pushNumber(L *lua.LState, f *vfsFile) int {
	for f.pos < len(f.data) && isSpace(f.data[f.pos]) {
		f.pos++
	}
	start := f.pos
	for f.pos < len(f.data) && strings.IndexByte("0123456789+-.eExXabcdefABCDEF", f.data[f.pos]) >= 0 {
		f.pos++
	}
	s := string(f.data[start:f.pos])
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(n))
		return 1
	}
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		L.Push(lua.LNumber(n))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func (f *vfsFile) readLine(keepNewline bool) (string, bool) {
	if f.pos >= len(f.data) {
		return "", false
	}
	rest := f.data[f.pos:]
	i := bytes.IndexByte(rest, '\n')
	if i < 0 {
		f.pos = len(f.data)
		return string(rest), true
	}
	f.pos += i + 1
	if keepNewline {
		return string(rest[:i+1]), true
	}
	return string(rest[:i]), true
}

// write appends or overwrites at the current position and stores the whole
// content back into the filesystem. It returns 0 on success and the number
// of pushed error values otherwise.
func (x *vfsIO) write(L *lua.LState, f *vfsFile, first int) int {
	if !f.writable {
		return fail(L, fmt.Errorf("%s: file not opened for writing", f.name))
	}
	for i := first; i <= L.GetTop(); i++ {
		var s string
		switch arg := L.Get(i).(type) {
		case lua.LString:
			s = string(arg)
		case lua.LNumber:
			s = arg.String()
		default:
			L.ArgError(i, "string expected, got "+arg.Type().String())
			return 0
		}
		if f.appending {
			f.pos = len(f.data)
		}
		if f.pos > len(f.data) {
			f.data = append(f.data, make([]byte, f.pos-len(f.data))...)
		}
		end := f.pos + len(s)
		if end > len(f.data) {
			f.data = append(f.data[:f.pos], s...)
		} else {
			copy(f.data[f.pos:], s)
		}
		f.pos = end
	}
	if err := x.v.write(f.name, f.data); err != nil {
		return fail(L, err)
	}
	return 0
}
