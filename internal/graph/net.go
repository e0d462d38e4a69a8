// Package graph builds nets of layers from a NetParameter and drives their
// lifecycle: setup, then reshape before each forward, and backward in
// reverse order.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/layer"
)

var tracer = otel.Tracer("quiver-graph")

// Net is an ordered list of layers connected by named blobs. A Net is not
// safe for concurrent use; use Replicas to run several at once.
type Net struct {
	name   string
	env    layer.Env
	params []layer.Parameter
	layers []layer.Layer
	// borrowed marks layers owned by another net.
	borrowed []bool

	bottoms   [][]*blob.Blob
	tops      [][]*blob.Blob
	propagate [][]bool

	blobs     map[string]*blob.Blob
	blobNames []string
	inputs    []string
	outputs   []string
}

// NewNet creates the net's blobs and layers, then sets up and reshapes each
// layer in declaration order.
func NewNet(ctx context.Context, param *NetParameter, env layer.Env) (*Net, error) {
	return newNet(ctx, param, env, nil)
}

// newNet builds a net; a non-nil shared[i] is used in place of creating
// layer i and is not set up again.
func newNet(ctx context.Context, param *NetParameter, env layer.Env, shared []layer.Layer) (*Net, error) {
	ctx, span := tracer.Start(ctx, "graph.NewNet", trace.WithAttributes(
		attribute.String("net", param.Name),
		attribute.Int("layers", len(param.Layers)),
	))
	defer span.End()

	if err := param.Validate(); err != nil {
		return nil, err
	}
	precision, err := param.PrecisionValue()
	if err != nil {
		return nil, err
	}
	env.Precision = precision

	n := &Net{
		name:  param.Name,
		env:   env,
		blobs: make(map[string]*blob.Blob),
	}

	for _, in := range param.Inputs {
		if _, err := n.addBlob(in.Name, in.Shape...); err != nil {
			n.Close()
			return nil, err
		}
		n.inputs = append(n.inputs, in.Name)
	}

	consumed := make(map[string]bool)
	for i, lp := range param.Layers {
		lp.Phase = param.Phase

		bottoms := make([]*blob.Blob, len(lp.Bottom))
		propagate := make([]bool, len(lp.Bottom))
		for j, name := range lp.Bottom {
			bottoms[j] = n.blobs[name]
			consumed[name] = true
			if len(lp.PropagateDown) > 0 {
				propagate[j] = lp.PropagateDown[j]
			} else {
				propagate[j] = !n.isInput(name)
			}
		}

		tops := make([]*blob.Blob, len(lp.Top))
		for j, name := range lp.Top {
			if b, ok := n.blobs[name]; ok {
				// In-place, or a later layer overwriting a name.
				tops[j] = b
				delete(consumed, name)
				continue
			}
			b, err := n.addBlob(name)
			if err != nil {
				n.Close()
				return nil, err
			}
			tops[j] = b
		}

		var l layer.Layer
		borrowed := i < len(shared) && shared[i] != nil
		if borrowed {
			l = shared[i]
		} else {
			l, err = layer.Create(ctx, lp, env)
			if err != nil {
				n.Close()
				return nil, err
			}
		}

		n.params = append(n.params, lp)
		n.layers = append(n.layers, l)
		n.borrowed = append(n.borrowed, borrowed)
		n.bottoms = append(n.bottoms, bottoms)
		n.tops = append(n.tops, tops)
		n.propagate = append(n.propagate, propagate)

		if !borrowed {
			if err := l.SetUp(ctx, bottoms, tops); err != nil {
				n.Close()
				return nil, fmt.Errorf("setup layer %s: %w", lp.Name, err)
			}
		}
		if err := l.Reshape(ctx, bottoms, tops); err != nil {
			n.Close()
			return nil, fmt.Errorf("reshape layer %s: %w", lp.Name, err)
		}

		log.Debug().
			Str("net", param.Name).
			Str("layer", lp.Name).
			Str("type", l.Type()).
			Bool("shared", borrowed).
			Msg("Layer ready")
	}

	for _, name := range n.blobNames {
		if !consumed[name] && !n.isInput(name) {
			n.outputs = append(n.outputs, name)
		}
	}
	netsBuilt.Inc()
	return n, nil
}

func (n *Net) addBlob(name string, shape ...int) (*blob.Blob, error) {
	b, err := blob.New(n.env.Backend, n.env.Precision, shape...)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w", name, err)
	}
	n.blobs[name] = b
	n.blobNames = append(n.blobNames, name)
	return b, nil
}

func (n *Net) isInput(name string) bool {
	for _, in := range n.inputs {
		if in == name {
			return true
		}
	}
	return false
}

// Forward reshapes and runs every layer in order.
func (n *Net) Forward(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "graph.Forward", trace.WithAttributes(attribute.String("net", n.name)))
	defer span.End()
	defer func(start time.Time) {
		netPassDuration.WithLabelValues("forward").Observe(time.Since(start).Seconds())
	}(time.Now())

	for i, l := range n.layers {
		if err := l.Reshape(ctx, n.bottoms[i], n.tops[i]); err != nil {
			span.RecordError(err)
			return fmt.Errorf("reshape layer %s: %w", n.params[i].Name, err)
		}
		if err := l.Forward(ctx, n.bottoms[i], n.tops[i]); err != nil {
			span.RecordError(err)
			return fmt.Errorf("forward layer %s: %w", n.params[i].Name, err)
		}
	}
	return nil
}

// Backward runs every layer's backward pass in reverse order. Output
// gradients must be set by the caller; parameter gradients accumulate until
// ClearParamDiffs.
func (n *Net) Backward(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "graph.Backward", trace.WithAttributes(attribute.String("net", n.name)))
	defer span.End()
	defer func(start time.Time) {
		netPassDuration.WithLabelValues("backward").Observe(time.Since(start).Seconds())
	}(time.Now())

	for i := len(n.layers) - 1; i >= 0; i-- {
		if err := n.layers[i].Backward(ctx, n.tops[i], n.propagate[i], n.bottoms[i]); err != nil {
			span.RecordError(err)
			return fmt.Errorf("backward layer %s: %w", n.params[i].Name, err)
		}
	}
	return nil
}

// ClearParamDiffs zeroes the gradients of every learnable blob.
func (n *Net) ClearParamDiffs() {
	for _, p := range n.Params() {
		p.ZeroDiff()
	}
}

// Name returns the net's name.
func (n *Net) Name() string { return n.name }

// Blob returns the named blob or nil.
func (n *Net) Blob(name string) *blob.Blob { return n.blobs[name] }

// InputNames returns the input blob names in declaration order.
func (n *Net) InputNames() []string { return append([]string(nil), n.inputs...) }

// OutputNames returns the names of blobs no layer consumes, in creation
// order.
func (n *Net) OutputNames() []string { return append([]string(nil), n.outputs...) }

// Inputs returns the input blobs by name.
func (n *Net) Inputs() map[string]*blob.Blob { return n.pick(n.inputs) }

// Outputs returns the output blobs by name.
func (n *Net) Outputs() map[string]*blob.Blob { return n.pick(n.outputs) }

func (n *Net) pick(names []string) map[string]*blob.Blob {
	out := make(map[string]*blob.Blob, len(names))
	for _, name := range names {
		out[name] = n.blobs[name]
	}
	return out
}

// Layers returns the layers in declaration order.
func (n *Net) Layers() []layer.Layer { return append([]layer.Layer(nil), n.layers...) }

// LayerParameters returns the configuration each layer was built from.
func (n *Net) LayerParameters() []layer.Parameter { return append([]layer.Parameter(nil), n.params...) }

// PropagateDown returns the flags Backward passes to layer i.
func (n *Net) PropagateDown(i int) []bool { return append([]bool(nil), n.propagate[i]...) }

// Params returns every learnable blob in layer order.
func (n *Net) Params() []*blob.Blob {
	var out []*blob.Blob
	for _, l := range n.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// SetInput copies values into an input blob. When the length differs from
// the blob's count but is a multiple of one sample, the first axis is
// resized to fit.
func (n *Net) SetInput(name string, values []float32) error {
	if !n.isInput(name) {
		return fmt.Errorf("unknown input %q", name)
	}
	b := n.blobs[name]
	if len(values) != b.Count() {
		shape := b.Shape()
		if len(shape) == 0 {
			return fmt.Errorf("input %s: want 1 value, got %d", name, len(values))
		}
		per := 1
		for _, d := range shape[1:] {
			per *= d
		}
		if per == 0 || len(values)%per != 0 {
			return fmt.Errorf("input %s: %d values do not fit shape %s", name, len(values), b.ShapeString())
		}
		shape[0] = len(values) / per
		if err := b.Reshape(shape...); err != nil {
			return err
		}
	}
	return b.SetData(values)
}

// Close closes the layers this net owns and releases every blob.
func (n *Net) Close() {
	for i, l := range n.layers {
		if n.borrowed[i] {
			continue
		}
		if c, ok := l.(layer.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("layer", n.params[i].Name).Msg("Failed to close layer")
			}
		}
	}
	for _, b := range n.blobs {
		b.Release()
	}
	n.layers = nil
	n.borrowed = nil
}
