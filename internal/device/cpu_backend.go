package device

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-quiver/internal/simd"
)

var (
	_ Backend = (*CPUBackend)(nil)
	_ Tensor  = (*CPUTensor)(nil)
)

// CPUBackend allocates host tensors. Matrix products go through gonum's
// blas32, which cmd/quiver may point at a cgo BLAS.
type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} { return &CPUTensor{} },
		},
	}
}

func (b *CPUBackend) Name() string { return "CPU" }

func (b *CPUBackend) NewTensor(r, c int, data []float32) Tensor {
	t := &CPUTensor{backend: b, rows: r, cols: c, buf: make([]float32, r*c)}
	if data != nil {
		t.CopyFromFloat32(data)
	}
	return t
}

func (b *CPUBackend) GetTensor(r, c int) Tensor {
	t, _ := b.pool.Get().(*CPUTensor)
	if t == nil {
		t = &CPUTensor{}
	}
	t.backend, t.rows, t.cols, t.trans = b, r, c, false

	n := r * c
	if cap(t.buf) < n {
		poolMisses.Inc()
		t.buf = make([]float32, n)
		return t
	}
	poolHits.Inc()
	t.buf = t.buf[:n]
	clear(t.buf)
	return t
}

func (b *CPUBackend) PutTensor(t Tensor) {
	ct, ok := t.(*CPUTensor)
	if !ok || ct == nil || ct.trans {
		return
	}
	ct.rows, ct.cols = 0, 0
	b.pool.Put(ct)
}

// CPUTensor is a row-major host tensor. A transposed view shares buf with
// its source and swaps the logical axes.
type CPUTensor struct {
	backend *CPUBackend
	buf     []float32
	rows    int // physical
	cols    int // physical
	trans   bool
}

func cpuTensor(op string, t Tensor) *CPUTensor {
	ct, ok := t.(*CPUTensor)
	if !ok {
		panic(fmt.Sprintf("device: %s: %T is not a CPU tensor", op, t))
	}
	return ct
}

func (t *CPUTensor) mustMatch(op string, o *CPUTensor) {
	tr, tc := t.Dims()
	or, oc := o.Dims()
	if tr != or || tc != oc {
		panic(fmt.Sprintf("device: %s: %dx%d vs %dx%d", op, tr, tc, or, oc))
	}
}

func (t *CPUTensor) index(i, j int) int {
	if t.trans {
		i, j = j, i
	}
	return i*t.cols + j
}

func (t *CPUTensor) Dims() (int, int) {
	if t.trans {
		return t.cols, t.rows
	}
	return t.rows, t.cols
}

func (t *CPUTensor) At(i, j int) float32 { return t.buf[t.index(i, j)] }

func (t *CPUTensor) Set(i, j int, v float32) { t.buf[t.index(i, j)] = v }

func (t *CPUTensor) Data() []float32 {
	if t.trans {
		return nil
	}
	return t.buf
}

func (t *CPUTensor) ToHost() []float32 {
	if !t.trans {
		return append([]float32(nil), t.buf...)
	}
	r, c := t.Dims()
	out := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, t.At(i, j))
		}
	}
	return out
}

func (t *CPUTensor) CopyFromFloat32(data []float32) {
	if len(data) != len(t.buf) {
		panic(fmt.Sprintf("device: CopyFromFloat32: have %d values, tensor holds %d", len(data), len(t.buf)))
	}
	if t.trans {
		panic("device: CopyFromFloat32 on a transposed view")
	}
	copy(t.buf, data)
}

func (t *CPUTensor) T() Tensor {
	return &CPUTensor{backend: t.backend, buf: t.buf, rows: t.rows, cols: t.cols, trans: !t.trans}
}

// general describes the physical layout for BLAS along with the transpose
// flag of the view.
func (t *CPUTensor) general() (blas32.General, blas.Transpose) {
	g := blas32.General{Rows: t.rows, Cols: t.cols, Stride: max(t.cols, 1), Data: t.buf}
	if t.trans {
		return g, blas.Trans
	}
	return g, blas.NoTrans
}

func (t *CPUTensor) Mul(a, b Tensor) { t.gemm("Mul", a, b, 0) }

func (t *CPUTensor) MulAdd(a, b Tensor) { t.gemm("MulAdd", a, b, 1) }

func (t *CPUTensor) gemm(op string, a, b Tensor, beta float32) {
	ma, mb := cpuTensor(op, a), cpuTensor(op, b)
	if t.trans {
		panic("device: " + op + ": result must not be a transposed view")
	}

	m, k := ma.Dims()
	kb, n := mb.Dims()
	if k != kb {
		panic(fmt.Sprintf("device: %s: inner dimensions %d and %d differ", op, k, kb))
	}
	if tr, tc := t.Dims(); tr != m || tc != n {
		panic(fmt.Sprintf("device: %s: result is %dx%d, want %dx%d", op, tr, tc, m, n))
	}

	switch {
	case m == 0 || n == 0:
	case k == 0:
		if beta == 0 {
			clear(t.buf)
		}
	default:
		ga, ta := ma.general()
		gb, tb := mb.general()
		gc, _ := t.general()
		blas32.Gemm(ta, tb, 1, ga, gb, beta, gc)
	}
}

func (t *CPUTensor) Add(other Tensor) {
	o := cpuTensor("Add", other)
	t.mustMatch("Add", o)
	if !t.trans && !o.trans {
		simd.VecAdd(t.buf, o.buf)
		return
	}
	r, c := t.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Set(i, j, t.At(i, j)+o.At(i, j))
		}
	}
}

func (t *CPUTensor) AddBias(bias Tensor) {
	bt := cpuTensor("AddBias", bias)
	if t.trans {
		panic("device: AddBias on a transposed view")
	}
	if br, bc := bt.Dims(); br != 1 && bc != 1 {
		panic(fmt.Sprintf("device: AddBias: bias is %dx%d, want a vector", br, bc))
	}

	vec := bt.ToHost()
	r, c := t.Dims()
	if len(vec) != c {
		panic(fmt.Sprintf("device: AddBias: bias has %d values for %d columns", len(vec), c))
	}
	for i := 0; i < r; i++ {
		simd.VecAdd(t.buf[i*c:(i+1)*c], vec)
	}
}

func (t *CPUTensor) Tanh() {
	for i, v := range t.buf {
		t.buf[i] = float32(math.Tanh(float64(v)))
	}
}
