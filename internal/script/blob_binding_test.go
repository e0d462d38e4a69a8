package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/device"
)

func runWithBlobs(t *testing.T, in *Interpreter, src string, blobs ...*blob.Blob) error {
	t.Helper()
	return in.Do(context.Background(), func(ctx context.Context, L *lua.LState) error {
		fn, err := L.LoadString(src)
		require.NoError(t, err)
		return L.CallByParam(lua.P{Fn: fn, Protect: true}, BlobList(L, blobs))
	})
}

func TestBlobBinding(t *testing.T) {
	in := newInterpreter()
	backend := device.NewCPUBackend()

	a, err := blob.New(backend, blob.FP32, 3)
	require.NoError(t, err)
	require.NoError(t, a.SetData([]float32{1, 2, 3}))
	b, err := blob.New(backend, blob.FP32, 1)
	require.NoError(t, err)

	t.Run("Queries", func(t *testing.T) {
		err := runWithBlobs(t, in, `
			local blobs = ...
			local a = blobs[1]
			assert(#blobs == 2)
			assert(a:count() == 3 and #a == 3)
			assert(a:num_axes() == 1)
			assert(a:shape()[1] == 3)
			assert(a:at(2) == 2)
			assert(tostring(a) == "Blob(3 (3))", tostring(a))
			assert(require("quiver").is_blob(a))
			assert(not require("quiver").is_blob({}))
		`, a, b)
		require.NoError(t, err)
	})

	t.Run("ReshapeAndWrite", func(t *testing.T) {
		err := runWithBlobs(t, in, `
			local blobs = ...
			local src, dst = blobs[1], blobs[2]
			dst:reshape({1, 3})
			local d = src:data()
			for i = 1, #d do d[i] = d[i] * 10 end
			dst:set_data(d)
			dst:set_diff({-1, -2, -3})
			dst:set_diff_at(1, 5)
			src:set(1, 7)
		`, a, b)
		require.NoError(t, err)

		assert.Equal(t, []int{1, 3}, b.Shape())
		assert.Equal(t, []float32{10, 20, 30}, b.Data())
		assert.Equal(t, []float32{5, -2, -3}, b.Diff())
		assert.Equal(t, []float32{7, 2, 3}, a.Data())
	})

	t.Run("CopyFromAndFill", func(t *testing.T) {
		c, err := blob.New(backend, blob.FP32, 2)
		require.NoError(t, err)
		err = runWithBlobs(t, in, `
			local blobs = ...
			blobs[2]:copy_from(blobs[1], false, true)
			blobs[1]:fill(0.5)
			blobs[1]:reshape(3, 1)
		`, a, c)
		require.NoError(t, err)
		assert.Equal(t, []float32{7, 2, 3}, c.Data())
		assert.Equal(t, []float32{0.5, 0.5, 0.5}, a.Data())
		assert.Equal(t, []int{3, 1}, a.Shape())
	})

	t.Run("Errors", func(t *testing.T) {
		cases := map[string]string{
			"SizeMismatch": `(...)[1]:set_data({1})`,
			"OutOfRange":   `(...)[1]:at(4)`,
			"NotNumber":    `(...)[1]:set_data({1, "x", 3})`,
			"NegativeDim":  `(...)[1]:reshape(-1)`,
			"NotBlob":      `(...)[1].count({})`,
			"CopyNoShape":  `(...)[2]:copy_from((...)[1])`,
		}
		small, err := blob.New(backend, blob.FP32, 2)
		require.NoError(t, err)
		for name, src := range cases {
			t.Run(name, func(t *testing.T) {
				err := runWithBlobs(t, in, src, a, small)
				assert.Error(t, err)
			})
		}
	})
}

func TestBoolList(t *testing.T) {
	in := newInterpreter()
	err := in.Do(context.Background(), func(ctx context.Context, L *lua.LState) error {
		tbl := BoolList(L, []bool{true, false})
		assert.Equal(t, 2, tbl.Len())
		assert.Equal(t, lua.LTrue, tbl.RawGetInt(1))
		assert.Equal(t, lua.LFalse, tbl.RawGetInt(2))
		return nil
	})
	require.NoError(t, err)
}
