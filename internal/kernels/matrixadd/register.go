package matrixadd

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/framework"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

func init() {
	framework.MustRegister(Register(framework.Default))
}

// Register adds both operators, their CPU and GPU kernels for int32,
// float32 and float64, and the gradient link to r.
func Register(r *framework.Registry) error {
	if err := r.RegisterOp(OpDef()); err != nil {
		return err
	}
	if err := r.RegisterOp(GradOpDef()); err != nil {
		return err
	}
	for _, reg := range [][]kernelRegistration{
		typedKernels[int32](),
		typedKernels[float32](),
		typedKernels[float64](),
	} {
		for _, k := range reg {
			if err := r.RegisterKernel(k.key, k.factory); err != nil {
				return err
			}
		}
	}
	return r.RegisterGradient(OpName, GradOpName)
}

type kernelRegistration struct {
	key     framework.KernelKey
	factory framework.KernelFactory
}

// typedKernels lists the four kernels of one element type.
func typedKernels[T tensor.DType]() []kernelRegistration {
	dt := tensor.DataTypeOf[T]()
	return []kernelRegistration{
		{
			key: framework.KernelKey{Op: OpName, Device: tensor.CPU, DType: dt},
			factory: func(c *framework.OpKernelConstruction) (framework.OpKernel, error) {
				bias, err := addAttrs[T](c)
				if err != nil {
					return nil, err
				}
				return &cpuAddKernel[T]{bias: bias}, nil
			},
		},
		{
			key: framework.KernelKey{Op: OpName, Device: tensor.GPU, DType: dt},
			factory: func(c *framework.OpKernelConstruction) (framework.OpKernel, error) {
				bias, err := addAttrs[T](c)
				if err != nil {
					return nil, err
				}
				if l := c.Launcher(); l != nil && !device.SupportsAddBias(l, dt) {
					return nil, fmt.Errorf("%w: %s on %s: %w", framework.ErrTypeNotSupported, dt, l.Name(), device.ErrUnsupportedDType)
				}
				return &gpuAddKernel[T]{bias: bias}, nil
			},
		},
		{
			key: framework.KernelKey{Op: GradOpName, Device: tensor.CPU, DType: dt},
			factory: func(c *framework.OpKernelConstruction) (framework.OpKernel, error) {
				if err := checkTypeAttr[T](c); err != nil {
					return nil, err
				}
				return &cpuGradKernel[T]{}, nil
			},
		},
		{
			key: framework.KernelKey{Op: GradOpName, Device: tensor.GPU, DType: dt},
			factory: func(c *framework.OpKernelConstruction) (framework.OpKernel, error) {
				if err := checkTypeAttr[T](c); err != nil {
					return nil, err
				}
				return &gpuGradKernel[T]{}, nil
			},
		},
	}
}

// addAttrs reads the forward attributes: T must name the kernel's element
// type, bias is returned.
func addAttrs[T tensor.DType](c *framework.OpKernelConstruction) (float32, error) {
	if err := checkTypeAttr[T](c); err != nil {
		return 0, err
	}
	return c.GetAttrFloat(AttrBias)
}

func checkTypeAttr[T tensor.DType](c *framework.OpKernelConstruction) error {
	dt, err := c.GetAttrType(AttrT)
	if err != nil {
		return err
	}
	if want := tensor.DataTypeOf[T](); dt != want {
		return fmt.Errorf("%w: %s=%s, kernel is %s", framework.ErrInvalidAttr, AttrT, dt, want)
	}
	return nil
}
