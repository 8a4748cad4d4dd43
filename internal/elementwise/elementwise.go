// Package elementwise holds the scalar arithmetic of the MatrixAdd operator
// pair and flat-range loops over it. The CPU kernels and the emulated
// device stream both call into it so every path rounds the same way.
package elementwise

import "github.com/PatWie/tf-custom-op/internal/tensor"

// AddBias returns x + y + bias in the element type T.
//
// Floats add bias after converting it to T. Integers add x + y first, then
// add the float32 bias and truncate toward zero, so int32 1 + 1 + 0.5 is 2.
func AddBias[T tensor.DType](x, y T, bias float32) T {
	var zero T
	if _, ok := any(zero).(int32); ok {
		return T(float32(x+y) + bias)
	}
	return x + y + T(bias)
}

// AddBiasRange sets dst[i] = a[i] + b[i] + bias for i in [start, end).
func AddBiasRange[T tensor.DType](dst, a, b []T, bias float32, start, end int) {
	var zero T
	if _, ok := any(zero).(int32); ok {
		for i := start; i < end; i++ {
			dst[i] = T(float32(a[i]+b[i]) + bias)
		}
		return
	}
	tb := T(bias)
	for i := start; i < end; i++ {
		dst[i] = a[i] + b[i] + tb
	}
}

// CopyRange sets dstA[i] = dstB[i] = src[i] for i in [start, end).
func CopyRange[T tensor.DType](dstA, dstB, src []T, start, end int) {
	for i := start; i < end; i++ {
		dstA[i] = src[i]
		dstB[i] = src[i]
	}
}
