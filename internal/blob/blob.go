package blob

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// Precision selects the numeric precision a blob stores its values in.
type Precision int

const (
	FP32 Precision = iota
	FP16
)

func (p Precision) String() string {
	switch p {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	default:
		return "Precision(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParsePrecision accepts "fp32"/"float32"/"float" and "fp16"/"float16"/"half".
// An empty string selects FP32.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fp32", "float32", "float":
		return FP32, nil
	case "fp16", "float16", "half":
		return FP16, nil
	}
	return FP32, fmt.Errorf("unknown precision %q", s)
}

// Blob is an N-d buffer with a value tensor and a gradient tensor of equal
// size. Storage is a 2-D device tensor: rows span the first axis, columns the
// remaining axes flattened.
//
// FP16 blobs keep float32 storage but round every value written through the
// Blob API to the nearest binary16 value. Writes made directly to the slices
// returned by Data and Diff bypass that rounding.
type Blob struct {
	backend   device.Backend
	precision Precision
	shape     []int
	count     int
	data      device.Tensor
	diff      device.Tensor
}

// New allocates a zeroed blob with the given shape.
func New(backend device.Backend, precision Precision, shape ...int) (*Blob, error) {
	b := &Blob{backend: backend, precision: precision}
	if err := b.Reshape(shape...); err != nil {
		return nil, err
	}
	return b, nil
}

// Reshape changes the blob's shape. Values are preserved when the element
// count is unchanged; otherwise both tensors are reallocated and zeroed.
func (b *Blob) Reshape(shape ...int) error {
	count := 1
	for i, d := range shape {
		if d < 0 {
			return fmt.Errorf("blob: negative dimension %d at axis %d", d, i)
		}
		count *= d
	}

	rows, cols := split(shape)
	if b.data != nil {
		if r, c := b.data.Dims(); r == rows && c == cols {
			b.shape = append(b.shape[:0], shape...)
			b.count = count
			return nil
		}
	}

	data := b.backend.GetTensor(rows, cols)
	diff := b.backend.GetTensor(rows, cols)
	if b.data != nil && b.count == count {
		data.CopyFromFloat32(b.data.Data())
		diff.CopyFromFloat32(b.diff.Data())
	}
	b.Release()

	b.data, b.diff = data, diff
	b.shape = append(b.shape[:0], shape...)
	b.count = count
	return nil
}

// ReshapeLike gives b the same shape as other.
func (b *Blob) ReshapeLike(other *Blob) error {
	return b.Reshape(other.shape...)
}

func split(shape []int) (int, int) {
	if len(shape) == 0 {
		return 1, 1
	}
	cols := 1
	for _, d := range shape[1:] {
		cols *= d
	}
	return shape[0], cols
}

// Shape returns a copy of the blob's shape.
func (b *Blob) Shape() []int {
	out := make([]int, len(b.shape))
	copy(out, b.shape)
	return out
}

func (b *Blob) NumAxes() int { return len(b.shape) }

func (b *Blob) Count() int { return b.count }

func (b *Blob) Precision() Precision { return b.precision }

// Tensor returns the value tensor.
func (b *Blob) Tensor() device.Tensor { return b.data }

// DiffTensor returns the gradient tensor.
func (b *Blob) DiffTensor() device.Tensor { return b.diff }

// Data returns the live value slice.
func (b *Blob) Data() []float32 { return b.data.Data() }

// Diff returns the live gradient slice.
func (b *Blob) Diff() []float32 { return b.diff.Data() }

func (b *Blob) SetData(values []float32) error {
	return b.write(b.data, values)
}

func (b *Blob) SetDiff(values []float32) error {
	return b.write(b.diff, values)
}

func (b *Blob) write(t device.Tensor, values []float32) error {
	if len(values) != b.count {
		return fmt.Errorf("blob: size mismatch: have %d values, blob %s holds %d", len(values), b.ShapeString(), b.count)
	}
	dst := t.Data()
	copy(dst, values)
	if b.precision == FP16 {
		device.QuantizeFP16Slice(dst)
	}
	return nil
}

func (b *Blob) check(i int) error {
	if i < 0 || i >= b.count {
		return fmt.Errorf("blob: index %d out of range [0, %d)", i, b.count)
	}
	return nil
}

func (b *Blob) At(i int) (float32, error) {
	if err := b.check(i); err != nil {
		return 0, err
	}
	return b.data.Data()[i], nil
}

func (b *Blob) Set(i int, v float32) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.data.Data()[i] = b.round(v)
	return nil
}

func (b *Blob) DiffAt(i int) (float32, error) {
	if err := b.check(i); err != nil {
		return 0, err
	}
	return b.diff.Data()[i], nil
}

func (b *Blob) SetDiffAt(i int, v float32) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.diff.Data()[i] = b.round(v)
	return nil
}

func (b *Blob) round(v float32) float32 {
	if b.precision == FP16 {
		return device.QuantizeFP16(v)
	}
	return v
}

// Fill sets every value to v.
func (b *Blob) Fill(v float32) {
	v = b.round(v)
	data := b.data.Data()
	for i := range data {
		data[i] = v
	}
}

// Quantize rounds values and gradients written directly to the device
// tensors. It does nothing for FP32 blobs.
func (b *Blob) Quantize() {
	if b.precision != FP16 {
		return
	}
	device.QuantizeFP16Slice(b.data.Data())
	device.QuantizeFP16Slice(b.diff.Data())
}

// ZeroDiff clears the gradient.
func (b *Blob) ZeroDiff() {
	clear(b.diff.Data())
}

// CopyFrom copies src's values (or gradient when copyDiff is set) into b.
// When reshape is set, b first takes src's shape; otherwise the counts must
// match.
func (b *Blob) CopyFrom(src *Blob, copyDiff, reshape bool) error {
	if src.count != b.count || !equalShape(src.shape, b.shape) {
		if !reshape {
			if src.count != b.count {
				return fmt.Errorf("blob: cannot copy %s into %s without reshape", src.ShapeString(), b.ShapeString())
			}
		} else if err := b.ReshapeLike(src); err != nil {
			return err
		}
	}
	if copyDiff {
		return b.SetDiff(src.Diff())
	}
	return b.SetData(src.Data())
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ShapeString formats the shape as "2 3 4 (24)".
func (b *Blob) ShapeString() string {
	var sb strings.Builder
	for _, d := range b.shape {
		sb.WriteString(strconv.Itoa(d))
		sb.WriteByte(' ')
	}
	sb.WriteByte('(')
	sb.WriteString(strconv.Itoa(b.count))
	sb.WriteByte(')')
	return sb.String()
}

// Release returns the blob's tensors to the backend pool. The blob must be
// reshaped before it is used again.
func (b *Blob) Release() {
	if b.data != nil {
		b.backend.PutTensor(b.data)
		b.data = nil
	}
	if b.diff != nil {
		b.backend.PutTensor(b.diff)
		b.diff = nil
	}
}
