package script

import (
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

const hostModuleName = "quiver"

// Phase values exposed to Lua as quiver.TRAIN and quiver.TEST.
const (
	PhaseTrain = 0
	PhaseTest  = 1
)

// openHostModule is the loader for require("quiver").
func (in *Interpreter) openHostModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log":     in.hostLog,
		"sleep":   in.hostSleep,
		"is_blob": hostIsBlob,
	})
	L.SetField(mod, "TRAIN", lua.LNumber(PhaseTrain))
	L.SetField(mod, "TEST", lua.LNumber(PhaseTest))
	L.SetField(mod, "version", lua.LString(lua.LuaVersion))
	L.Push(mod)
	return 1
}

// hostLog is quiver.log(level, msg).
func (in *Interpreter) hostLog(L *lua.LState) int {
	level, err := zerolog.ParseLevel(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
	}
	msg := L.CheckString(2)
	in.logger.WithLevel(level).Str("source", "lua").Msg(msg)
	return 0
}

// hostSleep is quiver.sleep(seconds). The global execution lock is released
// while sleeping so other goroutines may run Lua code.
func (in *Interpreter) hostSleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	_, ts := in.SaveThread(L.Context())
	time.Sleep(d)
	ts.Restore()
	return 0
}

// hostIsBlob is quiver.is_blob(v), true when v is Blob userdata.
func hostIsBlob(L *lua.LState) int {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	_, ok = ud.Value.(*blob.Blob)
	L.Push(lua.LBool(ok))
	return 1
}
