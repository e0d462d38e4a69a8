package device

import (
	"github.com/x448/float16"
)

// Float32ToFloat16 converts a float32 to its IEEE 754 binary16 bit pattern,
// rounding to nearest even. Values beyond the FP16 range become ±Inf.
func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// Float16ToFloat32 converts a binary16 bit pattern back to float32.
func Float16ToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}

// QuantizeFP16 rounds v to the nearest value representable in FP16.
func QuantizeFP16(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// QuantizeFP16Slice rounds every element of v in place.
func QuantizeFP16Slice(v []float32) {
	for i, x := range v {
		v[i] = QuantizeFP16(x)
	}
}
