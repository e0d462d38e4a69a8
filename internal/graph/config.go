package graph

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/layer"
)

// InputSpec declares a net input blob.
type InputSpec struct {
	Name  string `yaml:"name"`
	Shape []int  `yaml:"shape"`
}

// NetParameter is a net definition, usually loaded from YAML:
//
//	name: demo
//	precision: fp32
//	inputs:
//	  - name: data
//	    shape: [2, 3]
//	layers:
//	  - name: copy
//	    type: Script
//	    bottom: [data]
//	    top: [out]
//	    script: {module: layers.copy, layer: Copy}
type NetParameter struct {
	Name      string `yaml:"name"`
	Precision string `yaml:"precision"`

	// Phase is applied to every layer.
	Phase  layer.Phase       `yaml:"phase"`
	Inputs []InputSpec       `yaml:"inputs"`
	Layers []layer.Parameter `yaml:"layers"`
}

// LoadNetParameter reads and validates a YAML net definition.
func LoadNetParameter(path string) (*NetParameter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read net definition: %w", err)
	}
	p, err := ParseNetParameter(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseNetParameter decodes and validates a YAML net definition. Unknown
// fields are rejected.
func ParseNetParameter(data []byte) (*NetParameter, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p NetParameter
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode net definition: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// PrecisionValue parses the precision field.
func (p *NetParameter) PrecisionValue() (blob.Precision, error) {
	return blob.ParsePrecision(p.Precision)
}

// Validate checks names and wiring: layer names are unique and every bottom
// is an input or the top of an earlier layer.
func (p *NetParameter) Validate() error {
	if len(p.Layers) == 0 {
		return errors.New("net has no layers")
	}
	if _, err := p.PrecisionValue(); err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, in := range p.Inputs {
		if in.Name == "" {
			return errors.New("input without a name")
		}
		if known[in.Name] {
			return fmt.Errorf("duplicate input %q", in.Name)
		}
		for _, d := range in.Shape {
			if d < 0 {
				return fmt.Errorf("input %q has negative dimension", in.Name)
			}
		}
		known[in.Name] = true
	}

	names := make(map[string]bool)
	for i, lp := range p.Layers {
		if lp.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		if names[lp.Name] {
			return fmt.Errorf("duplicate layer name %q", lp.Name)
		}
		names[lp.Name] = true
		if lp.Type == "" {
			return fmt.Errorf("layer %q has no type", lp.Name)
		}
		for _, b := range lp.Bottom {
			if !known[b] {
				return fmt.Errorf("layer %q: unknown bottom blob %q", lp.Name, b)
			}
		}
		if n := len(lp.PropagateDown); n != 0 && n != len(lp.Bottom) {
			return fmt.Errorf("layer %q: %d propagate_down flags for %d bottoms", lp.Name, n, len(lp.Bottom))
		}
		for _, t := range lp.Top {
			known[t] = true
		}
	}
	return nil
}
