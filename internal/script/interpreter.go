// Package script hosts the embedded Lua interpreter that scripted layers run
// in. The interpreter is started once per process and guarded by a single
// global execution lock (see gil.go); all Lua code runs while that lock is
// held.
package script

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/23skdu/longbow-quiver/internal/cache"
)

const (
	objectsRegistryKey = "_QUIVER_OBJECTS"

	defaultCallStackSize = 256
	defaultRegistrySize  = 1024 * 20
)

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Interpreter owns the process's Lua state. It is created by Init and is
// never closed: objects handed out to layers may outlive any teardown point,
// and closing the state under them would crash the caller.
type Interpreter struct {
	noCopy noCopy

	// mu is the global execution lock. Everything below that touches Lua
	// values is only read or written while mu is held.
	mu      sync.Mutex
	L       *lua.LState
	threads []*lua.LState
	objects *lua.LTable
	nextRef int

	unrefMu sync.Mutex
	unrefs  []int

	searchPath []string
	logger     zerolog.Logger

	srcMu   sync.RWMutex
	sources map[string]string
	protos  *cache.MapCache[*lua.FunctionProto]
}

type config struct {
	searchPath   []string
	goStackTrace bool
	logger       zerolog.Logger
}

// Option configures the interpreter at start-up.
type Option func(*config)

// WithSearchPath adds directories searched for "<module>.lua" when a module
// is imported. Dots in module names map to path separators.
func WithSearchPath(dirs ...string) Option {
	return func(c *config) {
		c.searchPath = append(c.searchPath, dirs...)
	}
}

// WithGoStackTrace includes the Go stack in tracebacks of errors raised by
// native functions.
func WithGoStackTrace(enabled bool) Option {
	return func(c *config) {
		c.goStackTrace = enabled
	}
}

// WithLogger sets the logger used by the interpreter and by quiver.log.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

var (
	initOnce sync.Once
	global   *Interpreter
)

// Init starts the process's interpreter. Only the first call starts it;
// later calls return the same instance and ignore their options.
func Init(opts ...Option) *Interpreter {
	started := false
	initOnce.Do(func() {
		global = newInterpreter(opts...)
		started = true
	})
	if !started && len(opts) > 0 {
		global.logger.Warn().Msg("Interpreter already started, ignoring options")
	}
	return global
}

// Default returns the process's interpreter, starting it with default
// options if needed.
func Default() *Interpreter {
	return Init()
}

func newInterpreter(opts ...Option) *Interpreter {
	cfg := config{logger: log.Logger}
	for _, opt := range opts {
		opt(&cfg)
	}

	L := lua.NewState(lua.Options{
		CallStackSize:       defaultCallStackSize,
		RegistrySize:        defaultRegistrySize,
		IncludeGoStackTrace: cfg.goStackTrace,
	})

	in := &Interpreter{
		L:       L,
		logger:  cfg.logger.With().Str("component", "script").Logger(),
		sources: make(map[string]string),
		protos:  cache.NewMapCache[*lua.FunctionProto](),
	}
	for _, dir := range cfg.searchPath {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		in.searchPath = append(in.searchPath, abs)
	}

	in.objects = L.NewTable()
	L.SetField(L.Get(lua.RegistryIndex), objectsRegistryKey, in.objects)

	registerBlobType(L)
	in.installLoader(L)
	L.PreloadModule(hostModuleName, in.openHostModule)

	in.logger.Info().
		Strs("search_path", in.searchPath).
		Str("lua", lua.LuaVersion).
		Msg("Interpreter started")
	interpreterStarts.Inc()
	return in
}

// installLoader extends package.path with the search path and inserts the
// module searcher after package.preload, so both Import and Lua's require
// resolve registered sources and cached chunks.
func (in *Interpreter) installLoader(L *lua.LState) {
	pkg := L.GetGlobal("package")
	if len(in.searchPath) > 0 {
		patterns := make([]string, 0, 2*len(in.searchPath)+1)
		for _, dir := range in.searchPath {
			patterns = append(patterns,
				filepath.Join(dir, "?.lua"),
				filepath.Join(dir, "?", "init.lua"))
		}
		if cur, ok := L.GetField(pkg, "path").(lua.LString); ok && cur != "" {
			patterns = append(patterns, string(cur))
		}
		L.SetField(pkg, "path", lua.LString(strings.Join(patterns, ";")))
	}

	loaders, ok := L.GetField(pkg, "loaders").(*lua.LTable)
	if !ok {
		panic(fmt.Sprintf("script: package.loaders is %s, want table", L.GetField(pkg, "loaders").Type()))
	}
	loaders.Insert(2, L.NewFunction(in.searchModule))
}

// acquireThread returns an idle Lua thread. mu must be held.
func (in *Interpreter) acquireThread() *lua.LState {
	if n := len(in.threads); n > 0 {
		th := in.threads[n-1]
		in.threads = in.threads[:n-1]
		return th
	}
	threadsCreated.Inc()
	th, _ := in.L.NewThread()
	return th
}

// releaseThread parks th for reuse. mu must be held.
func (in *Interpreter) releaseThread(th *lua.LState) {
	th.RemoveContext()
	th.SetTop(0)
	in.threads = append(in.threads, th)
}
