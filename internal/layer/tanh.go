package layer

import (
	"context"
	"time"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

const TanHType = "TanH"

// TanH applies tanh elementwise. It may run in place (top == bottom).
type TanH struct {
	param Parameter
}

func newTanH(_ context.Context, param Parameter, _ Env) (Layer, error) {
	return &TanH{param: param}, nil
}

func (l *TanH) SetUp(_ context.Context, bottom, top []*blob.Blob) error {
	return checkCounts(l.param.Name, bottom, top, 1, 1)
}

func (l *TanH) Reshape(_ context.Context, bottom, top []*blob.Blob) error {
	if top[0] == bottom[0] {
		return nil
	}
	return top[0].ReshapeLike(bottom[0])
}

func (l *TanH) Forward(_ context.Context, bottom, top []*blob.Blob) error {
	defer observe(TanHType, "forward", time.Now())

	if top[0] != bottom[0] {
		copy(top[0].Data(), bottom[0].Data())
	}
	top[0].Tensor().Tanh()
	top[0].Quantize()
	return nil
}

func (l *TanH) Backward(_ context.Context, top []*blob.Blob, propagateDown []bool, bottom []*blob.Blob) error {
	if len(propagateDown) == 0 || !propagateDown[0] {
		return nil
	}
	defer observe(TanHType, "backward", time.Now())

	simd.TanhGrad(bottom[0].Diff(), top[0].Data(), top[0].Diff())
	bottom[0].Quantize()
	return nil
}

func (l *TanH) ShareInParallel() bool { return true }

func (l *TanH) Type() string { return TanHType }

func (l *TanH) Params() []*blob.Blob { return nil }
