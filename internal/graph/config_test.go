package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/layer"
)

func TestParseNetParameter(t *testing.T) {
	p, err := ParseNetParameter([]byte(replaceModule(tinyNet, "m")))
	require.NoError(t, err)

	assert.Equal(t, "tiny", p.Name)
	assert.Equal(t, layer.Test, p.Phase)
	require.Len(t, p.Inputs, 1)
	assert.Equal(t, []int{2, 3}, p.Inputs[0].Shape)
	require.Len(t, p.Layers, 3)

	script := p.Layers[0].Script
	require.NotNil(t, script)
	assert.Equal(t, "m", script.Module)
	assert.Equal(t, "Copy", script.Layer)
	assert.Equal(t, "scale=1", script.ParamStr)
	assert.True(t, script.ShareInParallel)

	ip := p.Layers[1].InnerProduct
	require.NotNil(t, ip)
	assert.Equal(t, 2, ip.NumOutput)
	assert.True(t, ip.HasBias())
	assert.Equal(t, layer.Filler{Type: "constant", Value: 1}, ip.WeightFiller)

	prec, err := p.PrecisionValue()
	require.NoError(t, err)
	assert.Equal(t, blob.FP32, prec)
}

func TestParseNetParameter_Invalid(t *testing.T) {
	cases := map[string]string{
		"UnknownField": `
name: x
bogus: 1
layers: [{name: a, type: TanH}]`,
		"NoLayers": `name: x`,
		"UnknownBottom": `
layers:
  - {name: a, type: TanH, bottom: [missing], top: [b]}`,
		"DuplicateLayer": `
inputs: [{name: x, shape: [1]}]
layers:
  - {name: a, type: TanH, bottom: [x], top: [y]}
  - {name: a, type: TanH, bottom: [y], top: [z]}`,
		"MissingType": `
layers: [{name: a}]`,
		"BadPrecision": `
precision: int4
layers: [{name: a, type: TanH}]`,
		"BadPhase": `
phase: EVAL
layers: [{name: a, type: TanH}]`,
		"PropagateDownCount": `
inputs: [{name: x, shape: [1]}]
layers:
  - {name: a, type: TanH, bottom: [x], top: [y], propagate_down: [true, false]}`,
		"NegativeShape": `
inputs: [{name: x, shape: [-1]}]
layers: [{name: a, type: TanH, bottom: [x], top: [y]}]`,
		"LayerPhaseNotAllowed": `
layers: [{name: a, type: TanH, phase: TEST}]`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNetParameter([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadNetParameter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(replaceModule(tinyNet, "m")), 0o644))

	p, err := LoadNetParameter(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", p.Name)

	_, err = LoadNetParameter(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
