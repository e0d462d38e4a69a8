package script

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

func compile(r io.Reader, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}

func compileFile(path string) (*lua.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return compile(f, path)
}

// RegisterSource makes source importable as module. The source is compiled
// immediately and syntax errors are returned. A module must be registered
// before its first import; a module that was already imported keeps the
// value it loaded with.
func (in *Interpreter) RegisterSource(module, source string) error {
	proto, err := compile(strings.NewReader(source), module)
	if err != nil {
		return err
	}

	in.srcMu.Lock()
	defer in.srcMu.Unlock()
	in.sources[module] = source
	in.protos.Put("source:"+module, proto)
	in.logger.Debug().Str("module", module).Int("bytes", len(source)).Msg("Registered script source")
	return nil
}

// Sources returns the names of modules registered with RegisterSource.
func (in *Interpreter) Sources() []string {
	in.srcMu.RLock()
	defer in.srcMu.RUnlock()
	names := make([]string, 0, len(in.sources))
	for name := range in.sources {
		names = append(names, name)
	}
	return names
}

// searchModule is a package.loaders entry resolving registered sources, then
// files on the search path. Compiled chunks are cached.
func (in *Interpreter) searchModule(L *lua.LState) int {
	name := L.CheckString(1)

	in.srcMu.RLock()
	_, registered := in.sources[name]
	in.srcMu.RUnlock()
	if registered {
		proto, ok := in.protos.Get("source:" + name)
		if !ok {
			L.RaiseError("registered module %q has no compiled chunk", name)
		}
		L.Push(L.NewFunctionFromProto(proto))
		return 1
	}

	rel := strings.ReplaceAll(name, ".", string(os.PathSeparator))
	var misses []string
	for _, dir := range in.searchPath {
		for _, candidate := range []string{rel + ".lua", filepath.Join(rel, "init.lua")} {
			path := filepath.Join(dir, candidate)
			if _, err := os.Stat(path); err != nil {
				misses = append(misses, "no file '"+path+"'")
				continue
			}
			proto, err := in.protos.GetOrLoad("file:"+path, func() (*lua.FunctionProto, error) {
				return compileFile(path)
			})
			if err != nil {
				L.RaiseError("error loading module '%s': %v", name, err)
			}
			L.Push(L.NewFunctionFromProto(proto))
			return 1
		}
	}

	msg := "\n\tno registered source '" + name + "'"
	if len(misses) > 0 {
		msg += "\n\t" + strings.Join(misses, "\n\t")
	}
	L.Push(lua.LString(msg))
	return 1
}

// Import loads module (like require) and returns its table. L must be the
// thread of a context holding the global execution lock.
func (in *Interpreter) Import(L *lua.LState, module string) (*lua.LTable, error) {
	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("require"),
		NRet:    1,
		Protect: true,
	}, lua.LString(module))
	if err != nil {
		return nil, newError(err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: module %q returned %s", ErrNotTable, module, ret.Type())
	}
	moduleImports.Inc()
	return tbl, nil
}
