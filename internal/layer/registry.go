package layer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownType is returned by Create for unregistered layer types.
var ErrUnknownType = errors.New("unknown layer type")

// Creator builds a layer from its configuration.
type Creator func(ctx context.Context, param Parameter, env Env) (Layer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Creator{}
)

// Register adds a creator for typ. Registering a type twice panics.
func Register(typ string, creator Creator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[typ]; dup {
		panic("layer: Register called twice for type " + typ)
	}
	registry[typ] = creator
}

// Create builds a layer of param.Type.
func Create(ctx context.Context, param Parameter, env Env) (Layer, error) {
	registryMu.RLock()
	creator, ok := registry[param.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownType, param.Type, Types())
	}
	l, err := creator(ctx, param, env)
	if err != nil {
		return nil, fmt.Errorf("create layer %s (%s): %w", param.Name, param.Type, err)
	}
	layersCreated.WithLabelValues(param.Type).Inc()
	return l, nil
}

// Types returns the registered type names, sorted.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for typ := range registry {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

func init() {
	Register(ScriptType, newScriptLayerFromParam)
	Register(InnerProductType, newInnerProduct)
	Register(TanHType, newTanH)
}
