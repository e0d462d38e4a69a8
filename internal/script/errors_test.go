package script

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestNewError_FromLua(t *testing.T) {
	in := newInterpreter()
	err := in.Do(context.Background(), func(ctx context.Context, L *lua.LState) error {
		fn, err := L.LoadString(`error("bad things")`)
		require.NoError(t, err)
		return newError(L.CallByParam(lua.P{Fn: fn, Protect: true}))
	})

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, "bad things")
	assert.Contains(t, se.Traceback, "stack traceback")
	assert.Contains(t, se.Error(), se.Traceback)

	var apiErr *lua.ApiError
	assert.ErrorAs(t, err, &apiErr)

	assert.Same(t, se, newError(se), "already converted errors pass through")
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	writeReport(&buf, &Error{Message: "layer.lua:3: oops", Traceback: "stack traceback:\n\t[G]: ?\n"})
	assert.Equal(t, "layer.lua:3: oops\nstack traceback:\n\t[G]: ?\n\n", buf.String())

	buf.Reset()
	writeReport(&buf, errors.New("plain"))
	assert.Equal(t, "plain\n\n", buf.String())
}

func TestReportFatal_Exits(t *testing.T) {
	if os.Getenv("QUIVER_REPORT_FATAL") == "1" {
		ReportFatal(&Error{Message: "fatal from lua", Traceback: "stack traceback:\n\tlayer.lua:1: in main chunk"})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestReportFatal_Exits$")
	cmd.Env = append(os.Environ(), "QUIVER_REPORT_FATAL=1")
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "process should exit non-zero")
	assert.False(t, exitErr.Success())
	assert.Contains(t, stderrBuf.String(), "fatal from lua")
	assert.Contains(t, stderrBuf.String(), "layer.lua:1: in main chunk")
}
