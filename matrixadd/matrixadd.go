// Copyright 2025 The tf-custom-op Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package matrixadd runs the MatrixAdd operator, output = A + B + bias over
// two rank-4 tensors [B, M, N, D] of equal shape, and its gradient.
//
// # Basic Usage
//
//	r := matrixadd.New(matrixadd.DefaultConfig())
//
//	a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 1, 1, 3}, tensor.CPU)
//	b, _ := tensor.FromSlice([]float32{10, 20, 30}, tensor.Shape{1, 1, 1, 3}, tensor.CPU)
//	out, _ := r.Add(a, b, 0.5) // [11.5, 22.5, 33.5]
//
// # Devices
//
// CPU placement runs on the calling goroutine. GPU placement needs a
// Launcher, either the host stream from backend/cpu or the WebGPU launcher
// from backend/webgpu.
//
// # Errors
//
// All failures wrap one of the sentinel errors below and can be tested with
// errors.Is. No outputs are returned on failure.
package matrixadd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/framework"
	ops "github.com/PatWie/tf-custom-op/internal/kernels/matrixadd"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Operator names as registered with the host runtime.
const (
	OpName     = ops.OpName
	GradOpName = ops.GradOpName
)

// Errors.
var (
	ErrShapeMismatch     = framework.ErrShapeMismatch
	ErrTypeNotSupported  = framework.ErrTypeNotSupported
	ErrAllocationFailure = framework.ErrAllocationFailure
	ErrDeviceLaunch      = framework.ErrDeviceLaunch
	ErrInvalidAttr       = framework.ErrInvalidAttr
	ErrInvalidArgument   = framework.ErrInvalidArgument
)

// ShapeError carries the operator, input index and detail of a shape failure.
type ShapeError = framework.ShapeError

// Launcher is a device stream GPU-placed kernels enqueue onto.
type Launcher = device.Launcher

// Config configures a Runner.
type Config struct {
	// Device selects the kernels. GPU requires Launcher.
	Device tensor.Device

	// Launcher is the device stream for GPU placement. The Runner does not
	// release it.
	Launcher Launcher

	// MaxBytes rejects any single output allocation larger than this many
	// bytes. Zero means unlimited.
	MaxBytes int64

	// Logger receives debug records. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns a CPU config without allocation limit.
func DefaultConfig() Config {
	return Config{
		Device: tensor.CPU,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Runner executes MatrixAdd and MatrixAddGrad on one device.
// It is safe for concurrent use, and several Runners may share one launcher.
type Runner struct {
	device    tensor.Device
	exec      *framework.Executor
	allocator *framework.HeapAllocator
}

// New creates a Runner over the operators registered at load time.
func New(cfg Config) *Runner {
	alloc := framework.NewHeapAllocator(cfg.MaxBytes)
	return &Runner{
		device:    cfg.Device,
		allocator: alloc,
		exec: framework.NewExecutor(framework.Options{
			Registry:  framework.Default,
			Allocator: alloc,
			Launcher:  cfg.Launcher,
			Logger:    cfg.Logger,
		}),
	}
}

// Device returns the device the Runner places nodes on.
func (r *Runner) Device() tensor.Device {
	return r.device
}

// BytesAllocated returns the total bytes of outputs allocated so far.
func (r *Runner) BytesAllocated() int64 {
	return r.allocator.BytesAllocated()
}

// Add returns a + b + bias. The element type is taken from a.
func (r *Runner) Add(a, b *tensor.RawTensor, bias float32) (*tensor.RawTensor, error) {
	def, err := r.node(a, bias)
	if err != nil {
		return nil, err
	}
	out, err := r.exec.Run(def, a, b)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Grad returns the gradients of a + b + bias with respect to a and b for the
// upstream gradient grad. Both are copies of grad.
func (r *Runner) Grad(grad, a, b *tensor.RawTensor, bias float32) (gradA, gradB *tensor.RawTensor, err error) {
	def, err := r.node(a, bias)
	if err != nil {
		return nil, nil, err
	}
	out, err := r.exec.Run(ops.GradNode(def), grad, a, b)
	if err != nil {
		return nil, nil, err
	}
	return out[0], out[1], nil
}

func (r *Runner) node(a *tensor.RawTensor, bias float32) (framework.NodeDef, error) {
	if a == nil {
		return framework.NodeDef{}, fmt.Errorf("%w: %s: nil input", framework.ErrInvalidArgument, OpName)
	}
	return ops.Node(OpName, r.device, a.DType(), bias), nil
}

// Op describes a registered operator for listings.
type Op struct {
	Name    string
	Inputs  []string
	Outputs []string
	Attrs   []string
	Doc     string
}

// Ops lists the registered operators in name order.
func Ops() []Op {
	var out []Op
	for _, name := range framework.Default.Ops() {
		def, err := framework.Default.Op(name)
		if err != nil {
			continue
		}
		op := Op{Name: def.Name, Doc: def.Doc}
		for _, in := range def.Inputs {
			op.Inputs = append(op.Inputs, in.Name+": "+in.TypeAttr)
		}
		for _, o := range def.Outputs {
			op.Outputs = append(op.Outputs, o.Name+": "+o.TypeAttr)
		}
		for _, attr := range def.Attrs {
			op.Attrs = append(op.Attrs, attr.String())
		}
		out = append(out, op)
	}
	return out
}

// Kernels lists the registered kernels as "Op/Device/dtype".
func Kernels() []string {
	keys := framework.Default.KernelKeys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
