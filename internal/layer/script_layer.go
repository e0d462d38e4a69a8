package layer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/script"
)

// ScriptType is the registered type name of ScriptLayer.
const ScriptType = "Script"

var tracer = otel.Tracer("quiver-layer")

// fatal handles errors raised by Lua code during a lifecycle call.
var fatal = script.ReportFatal

// ScriptLayer forwards the layer lifecycle to a Lua object with methods
// setup, reshape, forward and backward. Blobs are passed by reference as
// 1-based arrays of Blob userdata.
//
// Every call holds the exclusive lock of the layer's precision for its full
// duration and runs the Lua method with the global execution lock freshly
// acquired. An error raised by the Lua code terminates the process.
type ScriptLayer struct {
	param     Parameter
	interp    *script.Interpreter
	obj       *script.Object
	precision blob.Precision
	closeOnce sync.Once
}

// NewScriptLayer wraps obj. The layer takes its own reference to obj; the
// caller keeps (and must release) its own.
func NewScriptLayer(in *script.Interpreter, obj *script.Object, param Parameter, precision blob.Precision) *ScriptLayer {
	if param.Script == nil {
		param.Script = &ScriptParameter{}
	}
	return &ScriptLayer{
		param:     param,
		interp:    in,
		obj:       obj.Retain(),
		precision: precision,
	}
}

func newScriptLayerFromParam(ctx context.Context, param Parameter, env Env) (Layer, error) {
	sp := param.Script
	if sp == nil || sp.Module == "" || sp.Layer == "" {
		return nil, errors.New("script layer needs script.module and script.layer")
	}
	in := env.Interp
	if in == nil {
		in = script.Default()
	}

	obj, err := in.NewObject(ctx, sp.Module, sp.Layer)
	if err != nil {
		return nil, err
	}
	defer obj.Release()

	log.Debug().
		Str("layer", param.Name).
		Str("module", sp.Module).
		Str("class", sp.Layer).
		Str("precision", env.Precision.String()).
		Msg("Created script layer")
	return NewScriptLayer(in, obj, param, env.Precision), nil
}

func (l *ScriptLayer) call(ctx context.Context, op string, fn func(L *lua.LState) error) error {
	ctx, span := tracer.Start(ctx, "ScriptLayer."+op, trace.WithAttributes(
		attribute.String("layer.name", l.param.Name),
		attribute.String("layer.object", l.obj.Name()),
		attribute.String("precision", l.precision.String()),
	))
	defer span.End()

	start := time.Now()
	mu := bridgeLock(l.precision)
	mu.Lock()
	defer mu.Unlock()
	BridgeLockWait.WithLabelValues(l.precision.String()).Observe(time.Since(start).Seconds())

	err := l.interp.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		return fn(L)
	})
	LayerDuration.WithLabelValues(ScriptType, op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		fatal(err)
		return err
	}
	return nil
}

// SetUp exposes param_str and phase on the object, then calls
// self:setup(bottom, top).
func (l *ScriptLayer) SetUp(ctx context.Context, bottom, top []*blob.Blob) error {
	return l.call(ctx, "setup", func(L *lua.LState) error {
		l.obj.SetAttr(L, "param_str", lua.LString(l.param.Script.ParamStr))
		l.obj.SetAttr(L, "phase", lua.LNumber(l.param.Phase))
		return l.obj.CallMethod(L, "setup", script.BlobList(L, bottom), script.BlobList(L, top))
	})
}

// Reshape calls self:reshape(bottom, top).
func (l *ScriptLayer) Reshape(ctx context.Context, bottom, top []*blob.Blob) error {
	return l.call(ctx, "reshape", func(L *lua.LState) error {
		return l.obj.CallMethod(L, "reshape", script.BlobList(L, bottom), script.BlobList(L, top))
	})
}

// Forward calls self:forward(bottom, top).
func (l *ScriptLayer) Forward(ctx context.Context, bottom, top []*blob.Blob) error {
	return l.call(ctx, "forward", func(L *lua.LState) error {
		return l.obj.CallMethod(L, "forward", script.BlobList(L, bottom), script.BlobList(L, top))
	})
}

// Backward calls self:backward(top, propagate_down, bottom).
func (l *ScriptLayer) Backward(ctx context.Context, top []*blob.Blob, propagateDown []bool, bottom []*blob.Blob) error {
	return l.call(ctx, "backward", func(L *lua.LState) error {
		return l.obj.CallMethod(L, "backward",
			script.BlobList(L, top), script.BoolList(L, propagateDown), script.BlobList(L, bottom))
	})
}

func (l *ScriptLayer) ShareInParallel() bool { return l.param.Script.ShareInParallel }

func (l *ScriptLayer) Type() string { return ScriptType }

// Params returns nil; Lua layers keep their state in the object.
func (l *ScriptLayer) Params() []*blob.Blob { return nil }

// Object returns the wrapped object handle.
func (l *ScriptLayer) Object() *script.Object { return l.obj }

// Close drops the layer's reference to the object. It is safe to call more
// than once.
func (l *ScriptLayer) Close() error {
	l.closeOnce.Do(l.obj.Release)
	return nil
}
