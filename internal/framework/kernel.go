package framework

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// KernelKey selects one kernel implementation.
type KernelKey struct {
	Op     string
	Device tensor.Device
	DType  tensor.DataType
}

// String formats the key as Op/Device/dtype.
func (k KernelKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Op, k.Device, k.DType)
}

// OpKernel is a constructed kernel. Compute may be called concurrently from
// several executions, so implementations must not mutate their own state.
type OpKernel interface {
	Compute(ctx *OpKernelContext) error
}

// KernelFactory constructs a kernel for one node. It reads and validates
// attributes once; the values it captures are immutable afterwards.
type KernelFactory func(c *OpKernelConstruction) (OpKernel, error)

// OpKernelConstruction exposes the node being constructed to a KernelFactory.
type OpKernelConstruction struct {
	node     NodeDef
	attrs    Attrs
	dtype    tensor.DataType
	launcher device.Launcher
}

// Node returns the node definition.
func (c *OpKernelConstruction) Node() NodeDef {
	return c.node
}

// DType returns the element type the kernel was selected for.
func (c *OpKernelConstruction) DType() tensor.DataType {
	return c.dtype
}

// Launcher returns the stream GPU kernels will launch on, nil on CPU.
func (c *OpKernelConstruction) Launcher() device.Launcher {
	return c.launcher
}

// GetAttrFloat returns a float attribute.
func (c *OpKernelConstruction) GetAttrFloat(name string) (float32, error) {
	return c.attrs.GetFloat(name)
}

// GetAttrType returns a dtype attribute.
func (c *OpKernelConstruction) GetAttrType(name string) (tensor.DataType, error) {
	return c.attrs.GetType(name)
}

// OpKernelContext is the per-invocation view a kernel computes through.
// It lives for exactly one Compute call.
type OpKernelContext struct {
	op        string
	device    tensor.Device
	inputs    []*tensor.RawTensor
	outputs   []*tensor.RawTensor
	allocator Allocator
	launcher  device.Launcher
}

// NumInputs returns the number of inputs.
func (c *OpKernelContext) NumInputs() int {
	return len(c.inputs)
}

// Input returns input i. The kernel borrows it for this invocation only.
func (c *OpKernelContext) Input(i int) *tensor.RawTensor {
	return c.inputs[i]
}

// Device returns the device the kernel was placed on.
func (c *OpKernelContext) Device() tensor.Device {
	return c.device
}

// Launcher returns the device stream for GPU kernels, nil on CPU.
func (c *OpKernelContext) Launcher() device.Launcher {
	return c.launcher
}

// AllocateOutput asks the host allocator for output i with the given shape
// and dtype. Allocation failures are wrapped with ErrAllocationFailure.
func (c *OpKernelContext) AllocateOutput(i int, shape tensor.Shape, dtype tensor.DataType) (*tensor.RawTensor, error) {
	if i < 0 || i >= len(c.outputs) {
		return nil, fmt.Errorf("%w: %s: output index %d out of range [0, %d)", ErrInvalidArgument, c.op, i, len(c.outputs))
	}
	if c.outputs[i] != nil {
		return nil, fmt.Errorf("%w: %s: output %d allocated twice", ErrInvalidArgument, c.op, i)
	}
	out, err := c.allocator.Allocate(shape, dtype, c.device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: output %d %v %s: %w", ErrAllocationFailure, c.op, i, shape, dtype, err)
	}
	c.outputs[i] = out
	return out, nil
}

// Output returns output i, nil until it is allocated.
func (c *OpKernelContext) Output(i int) *tensor.RawTensor {
	return c.outputs[i]
}
