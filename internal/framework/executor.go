package framework

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Options configures an Executor.
type Options struct {
	Registry  *Registry       // Defaults to Default.
	Allocator Allocator       // Defaults to an unlimited HeapAllocator.
	Launcher  device.Launcher // Stream for GPU nodes; nil disables GPU placement.
	Logger    *slog.Logger    // Defaults to a logger that discards everything.
}

// TensorSpec describes an input at graph-construction time.
// Shape may contain tensor.UnknownDim.
type TensorSpec struct {
	Shape tensor.Shape
	DType tensor.DataType
}

// SpecOf returns the spec of a concrete tensor.
func SpecOf(t *tensor.RawTensor) TensorSpec {
	return TensorSpec{Shape: t.Shape(), DType: t.DType()}
}

// Executor plays the host runtime: it validates nodes against their
// schema, runs shape inference, selects and constructs kernels, allocates
// outputs and drives kernel execution.
type Executor struct {
	registry  *Registry
	allocator Allocator
	launcher  device.Launcher
	log       *slog.Logger
}

// NewExecutor creates an executor and seals its registry.
func NewExecutor(opts Options) *Executor {
	if opts.Registry == nil {
		opts.Registry = Default
	}
	if opts.Allocator == nil {
		opts.Allocator = NewHeapAllocator(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.Registry.Seal()
	return &Executor{
		registry:  opts.Registry,
		allocator: opts.Allocator,
		launcher:  opts.Launcher,
		log:       opts.Logger,
	}
}

// Registry returns the registry the executor resolves ops against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Node is a constructed graph node: schema-checked, shape-inferred and
// bound to one kernel instance.
type Node struct {
	def     NodeDef
	op      *OpDef
	dtype   tensor.DataType
	inputs  []TensorSpec
	outputs []tensor.Shape
	kernel  OpKernel
	exec    *Executor
}

// Def returns the node definition with resolved attributes.
func (n *Node) Def() NodeDef {
	return n.def
}

// DType returns the element type the kernel was selected for.
func (n *Node) DType() tensor.DataType {
	return n.dtype
}

// OutputShapes returns the inferred output shapes.
func (n *Node) OutputShapes() []tensor.Shape {
	return n.outputs
}

// Prepare performs graph construction for one node. Every contract failure
// (unknown op, bad attributes, unsupported type, shape mismatch, missing
// kernel) is reported here, before any buffer is allocated.
func (e *Executor) Prepare(def NodeDef, inputs []TensorSpec) (*Node, error) {
	op, err := e.registry.Op(def.Op)
	if err != nil {
		return nil, err
	}
	if len(inputs) != len(op.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d inputs, got %d", ErrInvalidArgument, op.Name, len(op.Inputs), len(inputs))
	}

	attrs, err := op.resolveAttrs(def.Attrs)
	if err != nil {
		return nil, err
	}
	def.Attrs = attrs

	dtype, err := inputDType(op, attrs, inputs)
	if err != nil {
		return nil, err
	}

	outputs, err := e.inferShapes(op, attrs, inputs)
	if err != nil {
		return nil, err
	}

	key := KernelKey{Op: op.Name, Device: def.Device, DType: dtype}
	factory, err := e.registry.Kernel(key)
	if err != nil {
		return nil, err
	}
	if def.Device == tensor.GPU && e.launcher == nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeviceLaunch, key, device.ErrUnavailable)
	}

	construction := &OpKernelConstruction{node: def, attrs: attrs, dtype: dtype}
	if def.Device == tensor.GPU {
		construction.launcher = e.launcher
	}
	kernel, err := factory(construction)
	if err != nil {
		return nil, fmt.Errorf("%s: construct kernel: %w", key, err)
	}

	e.log.Debug("prepared node",
		slog.String("node", def.Name),
		slog.String("kernel", key.String()),
		slog.Any("outputs", outputs))

	return &Node{
		def:     def,
		op:      op,
		dtype:   dtype,
		inputs:  inputs,
		outputs: outputs,
		kernel:  kernel,
		exec:    e,
	}, nil
}

// inputDType checks every input against its type attribute and returns the
// element type of the first one.
func inputDType(op *OpDef, attrs Attrs, inputs []TensorSpec) (tensor.DataType, error) {
	var dtype tensor.DataType
	for i, arg := range op.Inputs {
		want, err := attrs.GetType(arg.TypeAttr)
		if err != nil {
			return 0, err
		}
		if inputs[i].DType != want {
			return 0, fmt.Errorf("%w: %s input %d (%s) is %s but %s=%s",
				ErrInvalidArgument, op.Name, i, arg.Name, inputs[i].DType, arg.TypeAttr, want)
		}
		if i == 0 {
			dtype = want
		}
	}
	return dtype, nil
}

func (e *Executor) inferShapes(op *OpDef, attrs Attrs, inputs []TensorSpec) ([]tensor.Shape, error) {
	shapes := make([]tensor.Shape, len(inputs))
	for i, in := range inputs {
		shapes[i] = in.Shape
	}
	ic := NewInferenceContext(op.Name, shapes, len(op.Outputs), attrs)
	if op.ShapeFn != nil {
		if err := op.ShapeFn(ic); err != nil {
			return nil, err
		}
	}
	return ic.outputs, nil
}

// Compute runs the node on concrete inputs and returns its outputs.
//
// Inputs are re-checked against the shape function with their concrete
// shapes before the kernel runs. GPU nodes synchronize the launcher stream
// before returning so outputs are complete. On any error no outputs are
// returned.
func (n *Node) Compute(inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	e := n.exec
	if len(inputs) != len(n.inputs) {
		return nil, fmt.Errorf("%w: %s expects %d inputs, got %d", ErrInvalidArgument, n.op.Name, len(n.inputs), len(inputs))
	}
	concrete := make([]TensorSpec, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: %s input %d is nil", ErrInvalidArgument, n.op.Name, i)
		}
		if in.DType() != n.inputs[i].DType {
			return nil, fmt.Errorf("%w: %s input %d is %s, node was built for %s",
				ErrInvalidArgument, n.op.Name, i, in.DType(), n.inputs[i].DType)
		}
		if !in.Shape().Compatible(n.inputs[i].Shape) {
			return nil, &ShapeError{
				Op:      n.op.Name,
				Input:   i,
				Details: fmt.Sprintf("shape %v does not match %v given at construction", in.Shape(), n.inputs[i].Shape),
			}
		}
		concrete[i] = SpecOf(in)
	}
	shapes, err := e.inferShapes(n.op, n.def.Attrs, concrete)
	if err != nil {
		return nil, err
	}
	for i, s := range shapes {
		if !s.IsFullyDefined() {
			return nil, &ShapeError{Op: n.op.Name, Input: -1, Details: fmt.Sprintf("output %d shape %v is not fully defined", i, s)}
		}
	}

	ctx := &OpKernelContext{
		op:        n.op.Name,
		device:    n.def.Device,
		inputs:    inputs,
		outputs:   make([]*tensor.RawTensor, len(n.op.Outputs)),
		allocator: e.allocator,
	}
	if n.def.Device == tensor.GPU {
		ctx.launcher = e.launcher
	}

	err = n.kernel.Compute(ctx)
	if ctx.launcher != nil {
		if syncErr := ctx.launcher.Synchronize(); syncErr != nil && err == nil {
			err = fmt.Errorf("%w: %s on %s: %w", ErrDeviceLaunch, n.op.Name, ctx.launcher.Name(), syncErr)
		}
	}
	if err != nil {
		e.log.Debug("compute failed", slog.String("node", n.def.Name), slog.Any("error", err))
		return nil, err
	}

	for i, out := range ctx.outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: %s did not produce output %d", ErrInvalidArgument, n.op.Name, i)
		}
	}
	e.log.Debug("computed node",
		slog.String("node", n.def.Name),
		slog.String("device", n.def.Device.String()),
		slog.String("dtype", n.dtype.String()))
	return ctx.outputs, nil
}

// Run prepares def for the given inputs and computes it once.
func (e *Executor) Run(def NodeDef, inputs ...*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	specs := make([]TensorSpec, len(inputs))
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("%w: %s input %d is nil", ErrInvalidArgument, def.Op, i)
		}
		specs[i] = SpecOf(in)
	}
	node, err := e.Prepare(def, specs)
	if err != nil {
		return nil, err
	}
	return node.Compute(inputs...)
}
