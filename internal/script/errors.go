package script

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrNoClass is returned when a module does not define the requested class.
	ErrNoClass = errors.New("script: class not found")
	// ErrNotTable is returned when a module or constructor yields a non-table value.
	ErrNotTable = errors.New("script: value is not a table")
	// ErrNoMethod is returned when an object has no callable method of that name.
	ErrNoMethod = errors.New("script: method not found")
)

// Error is an uncaught error raised by Lua code.
type Error struct {
	Message   string
	Traceback string
	cause     error
}

func (e *Error) Error() string {
	if e.Traceback == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Traceback
}

func (e *Error) Unwrap() error { return e.cause }

func newError(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return &Error{
			Message:   apiErr.Object.String(),
			Traceback: apiErr.StackTrace,
			cause:     err,
		}
	}
	return &Error{Message: err.Error(), cause: err}
}

var stderr io.Writer = os.Stderr

// writeReport formats err the way the interpreter prints an uncaught error:
// the message, the traceback, then a blank line.
func writeReport(w io.Writer, err error) {
	var se *Error
	if !errors.As(err, &se) {
		se = &Error{Message: err.Error()}
	}
	fmt.Fprintln(w, se.Message)
	if tb := strings.TrimRight(se.Traceback, "\n"); tb != "" {
		fmt.Fprintln(w, tb)
	}
	fmt.Fprintln(w)
}

// ReportFatal prints err with its traceback to stderr and terminates the
// process.
func ReportFatal(err error) {
	writeReport(stderr, err)
	scriptErrors.Inc()
	log.Fatal().Err(err).Msg("Script error")
}
