package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestReplicas_SharesParallelSafeLayers(t *testing.T) {
	ctx := context.Background()
	r, err := NewReplicas(ctx, tinyParam(t, "graph_copy_replicas"), testEnv(), 3)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 3, r.Size())
	nets := r.Nets()
	first := nets[0].Layers()
	for _, net := range nets[1:] {
		layers := net.Layers()
		assert.Same(t, first[0], layers[0], "script layer is shared")
		assert.NotSame(t, first[1], layers[1], "inner product is per replica")
		assert.Same(t, first[2], layers[2], "tanh is shared")
	}

	state := moduleState(t, "graph_copy_replicas")
	assert.Equal(t, lua.LNumber(1), state.RawGetString("setups"), "shared layers are set up once")
}

func TestReplicas_RunBatch(t *testing.T) {
	ctx := context.Background()
	r, err := NewReplicas(ctx, tinyParam(t, "graph_copy_run"), testEnv(), 2)
	require.NoError(t, err)
	defer r.Close()

	batch := make([]Sample, 5)
	for i := range batch {
		v := float32(i) / 10
		batch[i] = Sample{"data": {v, v, v}}
	}

	results, err := r.RunBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, len(batch))
	for i, res := range results {
		require.Len(t, res["fc"], 2, "sample %d", i)
		if i > 0 {
			assert.Greater(t, res["fc"][0], results[i-1]["fc"][0], "results keep input order")
		}
	}

	empty, err := r.RunBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = r.RunBatch(ctx, []Sample{{"nope": {1}}})
	assert.Error(t, err)
}

func TestReplicas_AcquireRespectsContext(t *testing.T) {
	ctx := context.Background()
	r, err := NewReplicas(ctx, tinyParam(t, "graph_copy_acquire"), testEnv(), 1)
	require.NoError(t, err)
	defer r.Close()

	net, err := r.Acquire(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.Release(net)
	again, err := r.Acquire(ctx)
	require.NoError(t, err)
	r.Release(again)
}

func TestNewReplicas_Invalid(t *testing.T) {
	_, err := NewReplicas(context.Background(), tinyParam(t, "graph_copy_invalid"), testEnv(), 0)
	assert.Error(t, err)
}
