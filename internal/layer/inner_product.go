package layer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/device"
)

const InnerProductType = "InnerProduct"

// InnerProduct computes y = x·Wᵀ + b over the first axis, flattening the
// remaining bottom axes. W has shape (num_output, K).
type InnerProduct struct {
	param   Parameter
	ip      InnerProductParameter
	backend device.Backend
	prec    blob.Precision

	weight *blob.Blob
	bias   *blob.Blob
	k      int
}

func newInnerProduct(_ context.Context, param Parameter, env Env) (Layer, error) {
	if param.InnerProduct == nil || param.InnerProduct.NumOutput <= 0 {
		return nil, errors.New("inner_product.num_output must be positive")
	}
	return &InnerProduct{
		param:   param,
		ip:      *param.InnerProduct,
		backend: env.Backend,
		prec:    env.Precision,
	}, nil
}

// innerDims matches the blob's tensor layout: the first axis by the
// remaining axes flattened.
func innerDims(b *blob.Blob) (m, k int) {
	shape := b.Shape()
	if len(shape) == 0 {
		return 1, 1
	}
	k = 1
	for _, d := range shape[1:] {
		k *= d
	}
	return shape[0], k
}

func (l *InnerProduct) SetUp(_ context.Context, bottom, top []*blob.Blob) error {
	if err := checkCounts(l.param.Name, bottom, top, 1, 1); err != nil {
		return err
	}
	_, k := innerDims(bottom[0])
	if k == 0 {
		return fmt.Errorf("layer %s: bottom %s has no features", l.param.Name, bottom[0].ShapeString())
	}
	n := l.ip.NumOutput
	l.k = k

	var err error
	if l.weight, err = blob.New(l.backend, l.prec, n, k); err != nil {
		return err
	}
	if err := fill(l.weight, l.ip.WeightFiller, k, n); err != nil {
		return fmt.Errorf("layer %s weight: %w", l.param.Name, err)
	}
	if l.ip.HasBias() {
		if l.bias, err = blob.New(l.backend, l.prec, n); err != nil {
			return err
		}
		if err := fill(l.bias, l.ip.BiasFiller, 1, n); err != nil {
			return fmt.Errorf("layer %s bias: %w", l.param.Name, err)
		}
	}
	return nil
}

func (l *InnerProduct) Reshape(_ context.Context, bottom, top []*blob.Blob) error {
	m, k := innerDims(bottom[0])
	if k != l.k {
		return fmt.Errorf("layer %s: bottom has %d features, weights expect %d", l.param.Name, k, l.k)
	}
	return top[0].Reshape(m, l.ip.NumOutput)
}

func (l *InnerProduct) Forward(_ context.Context, bottom, top []*blob.Blob) error {
	defer observe(InnerProductType, "forward", time.Now())

	x := bottom[0].Tensor()
	y := top[0].Tensor()
	y.Mul(x, l.weight.Tensor().T())
	if l.bias != nil {
		y.AddBias(l.bias.Tensor())
	}
	top[0].Quantize()
	return nil
}

func (l *InnerProduct) Backward(_ context.Context, top []*blob.Blob, propagateDown []bool, bottom []*blob.Blob) error {
	defer observe(InnerProductType, "backward", time.Now())

	dy := top[0].DiffTensor()
	x := bottom[0].Tensor()

	// dW += dyᵀ·x
	l.weight.DiffTensor().MulAdd(dy.T(), x)
	l.weight.Quantize()

	if l.bias != nil {
		db := l.bias.Diff()
		m, n := dy.Dims()
		dyData := dy.Data()
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				db[j] += dyData[i*n+j]
			}
		}
		l.bias.Quantize()
	}

	if len(propagateDown) > 0 && propagateDown[0] {
		bottom[0].DiffTensor().Mul(dy, l.weight.Tensor())
		bottom[0].Quantize()
	}
	return nil
}

func (l *InnerProduct) ShareInParallel() bool { return false }

func (l *InnerProduct) Type() string { return InnerProductType }

func (l *InnerProduct) Params() []*blob.Blob {
	if l.bias == nil {
		return []*blob.Blob{l.weight}
	}
	return []*blob.Blob{l.weight, l.bias}
}

func observe(typ, op string, start time.Time) {
	LayerDuration.WithLabelValues(typ, op).Observe(time.Since(start).Seconds())
}
