// Package device implements the accelerator side of the MatrixAdd operator
// pair: stream launchers that take borrowed flat views and run the
// elementwise body over the whole range in one launch.
package device

import (
	"errors"
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Common errors.
var (
	ErrUnavailable      = errors.New("device: not available")
	ErrUnsupportedDType = errors.New("device: unsupported dtype")
	ErrInvalidLaunch    = errors.New("device: invalid launch arguments")
	ErrReleased         = errors.New("device: launcher released")
)

// Launcher enqueues elementwise kernels on a device execution stream.
//
// Launch methods validate their arguments and enqueue; they may return
// before the kernel has run. Views passed to a launch must stay valid until
// Synchronize returns. Synchronize waits for every launch enqueued before the
// call, may be called concurrently, and reports the first execution error
// since the previous Synchronize.
type Launcher interface {
	// Name identifies the launcher, e.g. "host-stream" or "webgpu".
	Name() string

	// LaunchAddBias computes out[i] = a[i] + b[i] + bias over out.Len() elements.
	LaunchAddBias(out, a, b tensor.View, bias float32) error

	// LaunchAddBiasGrad writes gradA[i] = gradB[i] = grad[i]. The forward
	// inputs a and b are accepted for interface symmetry and are not read.
	LaunchAddBiasGrad(grad, a, b, gradA, gradB tensor.View) error

	// Synchronize blocks until all launches enqueued before it finished.
	Synchronize() error

	// Release frees device resources. Further launches fail with ErrReleased.
	Release()
}

// Capabilities is implemented by launchers that run only a subset of the
// dtypes ValidateAddBias accepts. Launchers without it support them all.
type Capabilities interface {
	SupportsAddBias(dt tensor.DataType) bool
}

// SupportsAddBias reports whether l can run the forward kernel for dt.
func SupportsAddBias(l Launcher, dt tensor.DataType) bool {
	if checkDType(dt) != nil {
		return false
	}
	if c, ok := l.(Capabilities); ok {
		return c.SupportsAddBias(dt)
	}
	return true
}

// Compile-time checks that the launchers implement Launcher.
var (
	_ Launcher = (*Host)(nil)
	_ Launcher = (*WebGPU)(nil)

	_ Capabilities = (*WebGPU)(nil)
)

// checkDType reports whether the launchers know how to run dt.
func checkDType(dt tensor.DataType) error {
	switch dt {
	case tensor.Int32, tensor.Float32, tensor.Float64:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

// checkSameLayout verifies every view has the dtype and length of ref.
func checkSameLayout(ref tensor.View, views ...tensor.View) error {
	for _, v := range views {
		if v.DType() != ref.DType() {
			return fmt.Errorf("%w: dtype %s vs %s", ErrInvalidLaunch, v.DType(), ref.DType())
		}
		if v.Len() != ref.Len() {
			return fmt.Errorf("%w: element count %d vs %d", ErrInvalidLaunch, v.Len(), ref.Len())
		}
	}
	return nil
}

// ValidateAddBias checks the arguments of a forward launch.
func ValidateAddBias(out, a, b tensor.View) error {
	if err := checkDType(out.DType()); err != nil {
		return err
	}
	if err := checkSameLayout(out, a, b); err != nil {
		return err
	}
	if out.Same(a) || out.Same(b) {
		return fmt.Errorf("%w: output aliases an input", ErrInvalidLaunch)
	}
	return nil
}

// ValidateAddBiasGrad checks the arguments of a gradient launch.
func ValidateAddBiasGrad(grad, a, b, gradA, gradB tensor.View) error {
	if err := checkDType(grad.DType()); err != nil {
		return err
	}
	if err := checkSameLayout(grad, a, b, gradA, gradB); err != nil {
		return err
	}
	if gradA.Same(gradB) || gradA.Same(grad) || gradB.Same(grad) {
		return fmt.Errorf("%w: gradient outputs alias each other or the upstream gradient", ErrInvalidLaunch)
	}
	return nil
}
