package matrixadd

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/elementwise"
	"github.com/PatWie/tf-custom-op/internal/framework"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Forward pass (CPU)
// --------------------------------------------------

// cpuAddKernel computes A + B + bias on the calling goroutine.
type cpuAddKernel[T tensor.DType] struct {
	bias float32
}

// Compute walks the output in B -> M -> N -> D order through the strides of
// each tensor.
func (k *cpuAddKernel[T]) Compute(ctx *framework.OpKernelContext) error {
	matrixA := ctx.Input(0)
	matrixB := ctx.Input(1)
	if err := checkInputs[T](matrixA, matrixB); err != nil {
		return err
	}

	shape := matrixA.Shape()
	B, M, N, D := shape[0], shape[1], shape[2], shape[3]

	output, err := ctx.AllocateOutput(0, tensor.Shape{B, M, N, D}, matrixA.DType())
	if err != nil {
		return err
	}

	a := tensor.Elements[T](matrixA)
	b := tensor.Elements[T](matrixB)
	out := tensor.Elements[T](output)
	sa, sb, so := matrixA.Strides(), matrixB.Strides(), output.Strides()

	for bi := 0; bi < B; bi++ {
		for r := 0; r < M; r++ {
			for c := 0; c < N; c++ {
				for d := 0; d < D; d++ {
					ia := bi*sa[0] + r*sa[1] + c*sa[2] + d*sa[3]
					ib := bi*sb[0] + r*sb[1] + c*sb[2] + d*sb[3]
					io := bi*so[0] + r*so[1] + c*so[2] + d*so[3]
					out[io] = elementwise.AddBias(a[ia], b[ib], k.bias)
				}
			}
		}
	}
	return nil
}

// Forward pass (GPU)
// --------------------------------------------------

// gpuAddKernel hands flat views of A, B and the output to the device
// launcher; it does no arithmetic itself.
type gpuAddKernel[T tensor.DType] struct {
	bias float32
}

// Compute allocates the output and enqueues one launch covering all elements.
func (k *gpuAddKernel[T]) Compute(ctx *framework.OpKernelContext) error {
	matrixA := ctx.Input(0)
	matrixB := ctx.Input(1)
	if err := checkInputs[T](matrixA, matrixB); err != nil {
		return err
	}
	launcher := ctx.Launcher()
	if launcher == nil {
		return fmt.Errorf("%w: %s: no device launcher", framework.ErrDeviceLaunch, OpName)
	}

	output, err := ctx.AllocateOutput(0, matrixA.Shape(), matrixA.DType())
	if err != nil {
		return err
	}

	if err := launcher.LaunchAddBias(output.Flat(), matrixA.Flat(), matrixB.Flat(), k.bias); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", framework.ErrDeviceLaunch, OpName, launcher.Name(), err)
	}
	return nil
}

// Backward pass (CPU)
// --------------------------------------------------

// cpuGradKernel copies the upstream gradient into both input gradients.
type cpuGradKernel[T tensor.DType] struct{}

// Compute zeroes both gradient outputs, then fills them from the upstream gradient.
func (k *cpuGradKernel[T]) Compute(ctx *framework.OpKernelContext) error {
	topDiff := ctx.Input(0)
	matrixA := ctx.Input(1)
	matrixB := ctx.Input(2)
	if err := checkInputs[T](topDiff, matrixA, matrixB); err != nil {
		return err
	}

	gradA, gradB, err := allocateGrads(ctx, matrixA, matrixB)
	if err != nil {
		return err
	}

	g := tensor.Elements[T](topDiff)
	da := tensor.Elements[T](gradA)
	db := tensor.Elements[T](gradB)
	elementwise.CopyRange(da, db, g, 0, len(g))
	return nil
}

// Backward pass (GPU)
// --------------------------------------------------

// gpuGradKernel enqueues one launch writing both input gradients.
type gpuGradKernel[T tensor.DType] struct{}

// Compute zeroes both gradient outputs and launches the pass-through kernel.
func (k *gpuGradKernel[T]) Compute(ctx *framework.OpKernelContext) error {
	topDiff := ctx.Input(0)
	matrixA := ctx.Input(1)
	matrixB := ctx.Input(2)
	if err := checkInputs[T](topDiff, matrixA, matrixB); err != nil {
		return err
	}
	launcher := ctx.Launcher()
	if launcher == nil {
		return fmt.Errorf("%w: %s: no device launcher", framework.ErrDeviceLaunch, GradOpName)
	}

	gradA, gradB, err := allocateGrads(ctx, matrixA, matrixB)
	if err != nil {
		return err
	}

	err = launcher.LaunchAddBiasGrad(topDiff.Flat(), matrixA.Flat(), matrixB.Flat(), gradA.Flat(), gradB.Flat())
	if err != nil {
		return fmt.Errorf("%w: %s on %s: %w", framework.ErrDeviceLaunch, GradOpName, launcher.Name(), err)
	}
	return nil
}

// allocateGrads allocates grad_matrix_a and grad_matrix_b with the shapes of
// the forward inputs and zeroes them before any kernel writes.
func allocateGrads(ctx *framework.OpKernelContext, matrixA, matrixB *tensor.RawTensor) (gradA, gradB *tensor.RawTensor, err error) {
	gradA, err = ctx.AllocateOutput(0, matrixA.Shape(), matrixA.DType())
	if err != nil {
		return nil, nil, err
	}
	gradA.Zero()

	gradB, err = ctx.AllocateOutput(1, matrixB.Shape(), matrixB.DType())
	if err != nil {
		return nil, nil, err
	}
	gradB.Zero()
	return gradA, gradB, nil
}

// checkInputs verifies the kernel was handed tensors of its element type,
// rank 4 and one shape.
func checkInputs[T tensor.DType](inputs ...*tensor.RawTensor) error {
	want := tensor.DataTypeOf[T]()
	ref := inputs[0].Shape()
	for i, in := range inputs {
		if in.DType() != want {
			return fmt.Errorf("%w: input %d is %s, kernel is %s", framework.ErrInvalidArgument, i, in.DType(), want)
		}
		if in.Shape().Rank() != Rank || !in.Shape().Equal(ref) {
			return &framework.ShapeError{
				Op:      OpName,
				Input:   i,
				Details: fmt.Sprintf("shape %v, want rank %d matching %v", in.Shape(), Rank, ref),
			}
		}
	}
	return nil
}
