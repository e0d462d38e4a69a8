// Package simd holds unrolled float32 vector kernels used by the CPU backend
// and the native layers.
package simd

// VecAdd performs dst += src for float32 vectors
func VecAdd(dst, src []float32) {
	// Unrolled loop for better pipelining
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	// Handle remainder
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// TanhGrad writes the tanh derivative chain rule: dst = dy * (1 - y^2).
// y is the forward output.
func TanhGrad(dst, y, dy []float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] = dy[i] * (1 - y[i]*y[i])
		dst[i+1] = dy[i+1] * (1 - y[i+1]*y[i+1])
		dst[i+2] = dy[i+2] * (1 - y[i+2]*y[i+2])
		dst[i+3] = dy[i+3] * (1 - y[i+3]*y[i+3])
	}
	for ; i < len(dst); i++ {
		dst[i] = dy[i] * (1 - y[i]*y[i])
	}
}

// Sum returns the sum of a float32 vector.
func Sum(v []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i <= len(v)-4; i += 4 {
		s0 += v[i]
		s1 += v[i+1]
		s2 += v[i+2]
		s3 += v[i+3]
	}
	for ; i < len(v); i++ {
		s0 += v[i]
	}
	return s0 + s1 + s2 + s3
}
