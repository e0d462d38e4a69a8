// Package layer defines the layer contract driven by the graph and the layer
// implementations: native layers computed on a device backend and the
// Script layer, which forwards every lifecycle call to a Lua object.
package layer

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/script"
)

// Layer is one node of a net. The graph calls SetUp once, then Reshape
// before every Forward; Backward runs after Forward when gradients are
// needed.
type Layer interface {
	SetUp(ctx context.Context, bottom, top []*blob.Blob) error
	Reshape(ctx context.Context, bottom, top []*blob.Blob) error
	Forward(ctx context.Context, bottom, top []*blob.Blob) error
	Backward(ctx context.Context, top []*blob.Blob, propagateDown []bool, bottom []*blob.Blob) error

	// ShareInParallel reports whether one instance may serve every replica
	// of a net.
	ShareInParallel() bool
	// Type is the registered type name.
	Type() string
	// Params returns the learnable blobs, weights first.
	Params() []*blob.Blob
}

// Closer is implemented by layers holding resources beyond their blobs.
type Closer interface {
	Close() error
}

// Phase selects training or inference behavior.
type Phase int

const (
	Train Phase = script.PhaseTrain
	Test  Phase = script.PhaseTest
)

func (p Phase) String() string {
	switch p {
	case Train:
		return "TRAIN"
	case Test:
		return "TEST"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ParsePhase accepts "train" and "test" in any case, or their numeric values.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRAIN", "0":
		return Train, nil
	case "TEST", "1":
		return Test, nil
	}
	return Train, fmt.Errorf("unknown phase %q", s)
}

func (p *Phase) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParsePhase(value.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Phase) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// ScriptParameter configures a Script layer.
type ScriptParameter struct {
	// Module is the Lua module to import.
	Module string `yaml:"module"`
	// Layer is the class in Module to instantiate with Layer:new().
	Layer string `yaml:"layer"`
	// ParamStr is handed to the object as self.param_str before setup.
	ParamStr string `yaml:"param_str"`
	// ShareInParallel lets replicas share one instance.
	ShareInParallel bool `yaml:"share_in_parallel"`
}

// Filler initializes a parameter blob.
type Filler struct {
	// Type is "constant" (default) or "xavier".
	Type  string  `yaml:"type"`
	Value float32 `yaml:"value"`
}

// InnerProductParameter configures an InnerProduct layer.
type InnerProductParameter struct {
	NumOutput    int    `yaml:"num_output"`
	BiasTerm     *bool  `yaml:"bias_term"`
	WeightFiller Filler `yaml:"weight_filler"`
	BiasFiller   Filler `yaml:"bias_filler"`
}

// HasBias reports whether a bias is learned; it defaults to true.
func (p InnerProductParameter) HasBias() bool {
	return p.BiasTerm == nil || *p.BiasTerm
}

// Parameter is the per-layer configuration record.
type Parameter struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Bottom []string `yaml:"bottom"`
	Top    []string `yaml:"top"`
	Phase  Phase    `yaml:"-"`
	// PropagateDown overrides, per bottom, whether Backward computes its
	// gradient. Empty means the graph decides.
	PropagateDown []bool `yaml:"propagate_down"`

	Script       *ScriptParameter       `yaml:"script"`
	InnerProduct *InnerProductParameter `yaml:"inner_product"`
}

// Env carries what creators need to build a layer.
type Env struct {
	Backend   device.Backend
	Interp    *script.Interpreter
	Precision blob.Precision
}

func checkCounts(name string, bottom, top []*blob.Blob, nBottom, nTop int) error {
	if len(bottom) != nBottom || len(top) != nTop {
		return fmt.Errorf("layer %s: want %d bottom and %d top blobs, got %d and %d", name, nBottom, nTop, len(bottom), len(top))
	}
	return nil
}
