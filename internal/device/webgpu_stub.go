//go:build !windows

package device

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// WebGPU is unavailable on this platform; every method fails.
type WebGPU struct{}

// NewWebGPU always returns ErrUnavailable on this platform.
func NewWebGPU() (*WebGPU, error) {
	return nil, fmt.Errorf("%w: webgpu backend is built for windows only", ErrUnavailable)
}

// WebGPUAvailable reports false on this platform.
func WebGPUAvailable() bool {
	return false
}

// Name returns the launcher name.
func (*WebGPU) Name() string {
	return "webgpu"
}

// SupportsAddBias reports false on this platform.
func (*WebGPU) SupportsAddBias(tensor.DataType) bool {
	return false
}

// LaunchAddBias always fails with ErrUnavailable.
func (*WebGPU) LaunchAddBias(_, _, _ tensor.View, _ float32) error {
	return ErrUnavailable
}

// LaunchAddBiasGrad always fails with ErrUnavailable.
func (*WebGPU) LaunchAddBiasGrad(_, _, _, _, _ tensor.View) error {
	return ErrUnavailable
}

// Synchronize always fails with ErrUnavailable.
func (*WebGPU) Synchronize() error {
	return ErrUnavailable
}

// Release is a no-op.
func (*WebGPU) Release() {}
