// Package device holds the storage behind blobs: 2-D float32 tensors and
// the backend that allocates and pools them.
package device

// Tensor is a 2-D float32 buffer owned by a Backend. Blobs of any rank are
// stored as (first axis) x (remaining axes flattened).
type Tensor interface {
	// Dims returns (rows, cols) of the logical view.
	Dims() (int, int)

	At(i, j int) float32
	Set(i, j int, v float32)

	// Data returns the backing slice in row-major order, or nil for a
	// transposed view.
	Data() []float32

	// ToHost returns a row-major copy of the logical view.
	ToHost() []float32

	// CopyFromFloat32 overwrites the tensor with data of the same length.
	CopyFromFloat32(data []float32)

	// T returns a transposed view sharing storage.
	T() Tensor

	// Mul sets t = a * b.
	Mul(a, b Tensor)

	// MulAdd sets t = t + a * b.
	MulAdd(a, b Tensor)

	// Add sets t = t + other.
	Add(other Tensor)

	// AddBias adds a 1xN or Nx1 vector to every row.
	AddBias(bias Tensor)

	// Tanh applies tanh in place.
	Tanh()
}

// Backend creates tensors.
type Backend interface {
	Name() string

	// NewTensor allocates an r x c tensor, copying data when it is non-nil.
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor returns a zeroed r x c tensor, reusing pooled storage.
	GetTensor(r, c int) Tensor

	// PutTensor hands t back for reuse. t must not be used afterwards.
	PutTensor(t Tensor)
}
