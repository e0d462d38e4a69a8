package device

import (
	"math"
	"testing"
)

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	t.Run("Add", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		b := backend.NewTensor(2, 2, []float32{10, 20, 30, 40})

		a.Add(b)

		expected := []float32{11, 22, 33, 44}
		data := a.ToHost()
		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-6 {
				t.Errorf("Add mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Mul", func(t *testing.T) {
		// A: 2x3, B: 3x2 -> C: 2x2
		a := backend.NewTensor(2, 3, []float32{
			1, 2, 3,
			4, 5, 6,
		})
		b := backend.NewTensor(3, 2, []float32{
			7, 8,
			9, 10,
			11, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a, b)

		expected := []float32{58, 64, 139, 154}
		data := c.ToHost()
		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-4 {
				t.Errorf("Mul mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("MulTransposed", func(t *testing.T) {
		// A^T where A is 3x2 -> 2x3, times B^T where B is 2x3 -> 3x2
		a := backend.NewTensor(3, 2, []float32{
			1, 4,
			2, 5,
			3, 6,
		})
		b := backend.NewTensor(2, 3, []float32{
			7, 9, 11,
			8, 10, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a.T(), b.T())

		expected := []float32{58, 64, 139, 154}
		data := c.ToHost()
		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-4 {
				t.Errorf("Mul(T) mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("MulAdd", func(t *testing.T) {
		a := backend.NewTensor(1, 2, []float32{1, 2})
		b := backend.NewTensor(2, 1, []float32{3, 4})
		c := backend.NewTensor(1, 1, []float32{100})

		c.MulAdd(a, b)

		if got := c.At(0, 0); got != 111 {
			t.Errorf("MulAdd = %f, want 111", got)
		}
	})

	t.Run("AddBias", func(t *testing.T) {
		a := backend.NewTensor(2, 3, nil)
		bias := backend.NewTensor(1, 3, []float32{1, 2, 3})

		a.AddBias(bias)

		expected := []float32{1, 2, 3, 1, 2, 3}
		data := a.ToHost()
		for i, v := range expected {
			if data[i] != v {
				t.Errorf("AddBias mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Tanh", func(t *testing.T) {
		a := backend.NewTensor(1, 3, []float32{0, 0.5, -1})
		a.Tanh()

		expected := []float32{0, float32(math.Tanh(0.5)), float32(math.Tanh(-1))}
		data := a.ToHost()
		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-6 {
				t.Errorf("Tanh mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("TransposeView", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float32{1, 2, 3, 4, 5, 6})
		at := a.T()

		r, c := at.Dims()
		if r != 3 || c != 2 {
			t.Fatalf("T dims = %dx%d, want 3x2", r, c)
		}
		if at.Data() != nil {
			t.Error("transposed view should not expose contiguous data")
		}
		if got := at.At(2, 1); got != 6 {
			t.Errorf("T At(2,1) = %f, want 6", got)
		}
		if got := at.ToHost(); got[1] != 4 {
			t.Errorf("T ToHost()[1] = %f, want 4", got[1])
		}
	})

	t.Run("Pooling", func(t *testing.T) {
		t1 := backend.GetTensor(10, 10)
		t1.Set(0, 0, 123)
		backend.PutTensor(t1)

		t2 := backend.GetTensor(10, 10)
		if val := t2.At(0, 0); val != 0 {
			t.Errorf("Pooled tensor not zeroed: got %f", val)
		}
	})

	t.Run("MismatchPanics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("Add with mismatched dims should panic")
			}
		}()
		a := backend.NewTensor(2, 2, nil)
		a.Add(backend.NewTensor(2, 3, nil))
	})
}

func TestFloat16RoundTrip(t *testing.T) {
	cases := []struct {
		in   float32
		want float32
	}{
		{0, 0},
		{1, 1},
		{-2.5, -2.5},
		{65504, 65504},
		{0.1, 0.099975586},
	}
	for _, tc := range cases {
		got := Float16ToFloat32(Float32ToFloat16(tc.in))
		if math.Abs(float64(got-tc.want)) > 1e-7 {
			t.Errorf("round trip %v = %v, want %v", tc.in, got, tc.want)
		}
		if q := QuantizeFP16(tc.in); q != got {
			t.Errorf("QuantizeFP16(%v) = %v, want %v", tc.in, q, got)
		}
	}

	if !math.IsInf(float64(QuantizeFP16(1e6)), 1) {
		t.Error("values beyond the FP16 range should become +Inf")
	}
}
