package matrixadd

import (
	"math"
	"sync"
	"testing"

	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/framework"
	"github.com/PatWie/tf-custom-op/internal/parallel"
	"github.com/PatWie/tf-custom-op/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

type testEnv struct {
	exec      *framework.Executor
	allocator *framework.HeapAllocator
	host      *device.Host
}

// newTestEnv builds an executor over a private registry with a host stream
// standing in for the GPU.
func newTestEnv(t *testing.T, maxBytes int64) *testEnv {
	t.Helper()
	reg := framework.NewRegistry()
	require.NoError(t, Register(reg))

	host := device.NewHost(device.HostConfig{
		Parallel:   parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16},
		QueueDepth: 8,
	})
	t.Cleanup(host.Release)

	alloc := framework.NewHeapAllocator(maxBytes)
	return &testEnv{
		exec: framework.NewExecutor(framework.Options{
			Registry:  reg,
			Allocator: alloc,
			Launcher:  host,
		}),
		allocator: alloc,
		host:      host,
	}
}

func ramp[T tensor.DType](n int, scale float64, offset float64) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(float64(i)*scale + offset)
	}
	return out
}

func fromSlice[T tensor.DType](t *testing.T, data []T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape, tensor.CPU)
	require.NoError(t, err)
	return raw
}

var devices = []tensor.Device{tensor.CPU, tensor.GPU}

func TestMatrixAdd_Example(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			a := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{1, 1, 1, 3})
			b := fromSlice(t, []float32{10, 20, 30}, tensor.Shape{1, 1, 1, 3})

			out, err := env.exec.Run(Node("add", dev, tensor.Float32, 0.5), a, b)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tensor.Shape{1, 1, 1, 3}, out[0].Shape())
			assert.Equal(t, []float32{11.5, 22.5, 33.5}, out[0].AsFloat32())
		})
	}
}

func TestMatrixAdd_Float32(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{2, 3, 4, 5}
	n := shape.NumElements()
	a := fromSlice(t, ramp[float32](n, 0.25, -3), shape)
	b := fromSlice(t, ramp[float32](n, -0.5, 7), shape)

	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			out, err := env.exec.Run(Node("add", dev, tensor.Float32, 1.5), a, b)
			require.NoError(t, err)

			got := out[0].AsFloat32()
			x, y := a.AsFloat32(), b.AsFloat32()
			for i := range got {
				assert.Equal(t, x[i]+y[i]+1.5, got[i], "element %d", i)
			}
		})
	}
}

func TestMatrixAdd_Float64(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{3, 2, 5, 7}
	n := shape.NumElements()
	a := fromSlice(t, ramp[float64](n, 0.1, -4), shape)
	b := fromSlice(t, ramp[float64](n, 1.0/3, 2), shape)

	want := make([]float64, n)
	floats.AddTo(want, a.AsFloat64(), b.AsFloat64())
	floats.AddConst(float64(float32(0.1)), want)

	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			out, err := env.exec.Run(Node("add", dev, tensor.Float64, 0.1), a, b)
			require.NoError(t, err)
			assert.True(t, floats.Equal(want, out[0].AsFloat64()))
		})
	}
}

func TestMatrixAdd_Int32TruncatesBias(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{1, 1, 2, 3}
	a := fromSlice(t, []int32{1, -1, 0, 5, -7, 100}, shape)
	b := fromSlice(t, []int32{1, -1, 0, 2, 3, -50}, shape)

	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			out, err := env.exec.Run(Node("add", dev, tensor.Int32, 0.5), a, b)
			require.NoError(t, err)
			// float32(a+b)+0.5 converted back toward zero.
			assert.Equal(t, []int32{2, -1, 0, 7, -3, 50}, out[0].AsInt32())
		})
	}
}

func TestMatrixAdd_DevicesAgree(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{4, 8, 8, 3}
	n := shape.NumElements()
	a := fromSlice(t, ramp[float32](n, 0.013, -1), shape)
	b := fromSlice(t, ramp[float32](n, -0.007, 2), shape)

	cpu, err := env.exec.Run(Node("cpu", tensor.CPU, tensor.Float32, -0.75), a, b)
	require.NoError(t, err)
	gpu, err := env.exec.Run(Node("gpu", tensor.GPU, tensor.Float32, -0.75), a, b)
	require.NoError(t, err)
	assert.Equal(t, cpu[0].Data(), gpu[0].Data())
}

func TestMatrixAdd_Deterministic(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{2, 4, 4, 4}
	n := shape.NumElements()
	a := fromSlice(t, ramp[float64](n, math.Pi, 1), shape)
	b := fromSlice(t, ramp[float64](n, math.E, -1), shape)

	for _, dev := range devices {
		node, err := env.exec.Prepare(Node("add", dev, tensor.Float64, 0.3),
			[]framework.TensorSpec{framework.SpecOf(a), framework.SpecOf(b)})
		require.NoError(t, err)

		first, err := node.Compute(a, b)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			again, err := node.Compute(a, b)
			require.NoError(t, err)
			assert.Equal(t, first[0].Data(), again[0].Data(), "%s run %d", dev, i)
		}
	}
}

func TestMatrixAdd_ShapeMismatch(t *testing.T) {
	env := newTestEnv(t, 0)
	a, err := tensor.NewRaw(tensor.Shape{2, 3, 4, 5}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.NewRaw(tensor.Shape{2, 3, 4, 6}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	for _, dev := range devices {
		out, err := env.exec.Run(Node("add", dev, tensor.Float32, 0), a, b)
		require.ErrorIs(t, err, framework.ErrShapeMismatch)
		assert.Nil(t, out)
	}
	assert.Zero(t, env.allocator.Allocations())
}

func TestMatrixAdd_WrongRankAllocatesNothing(t *testing.T) {
	env := newTestEnv(t, 0)
	a, err := tensor.NewRaw(tensor.Shape{3, 4, 5}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.NewRaw(tensor.Shape{3, 4, 5}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	_, err = env.exec.Run(Node("add", tensor.CPU, tensor.Float32, 0), a, b)
	require.ErrorIs(t, err, framework.ErrShapeMismatch)

	var shapeErr *framework.ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, OpName, shapeErr.Op)
	assert.Equal(t, 0, shapeErr.Input)
	assert.Zero(t, env.allocator.BytesAllocated())
}

func TestMatrixAdd_TypeNotSupported(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{1, 1, 1, 2}

	for _, dt := range []tensor.DataType{tensor.Complex64, tensor.Int64, tensor.Uint8} {
		t.Run(dt.String(), func(t *testing.T) {
			a, err := tensor.NewRaw(shape, dt, tensor.CPU)
			require.NoError(t, err)
			b, err := tensor.NewRaw(shape, dt, tensor.CPU)
			require.NoError(t, err)

			_, err = env.exec.Run(Node("add", tensor.CPU, dt, 1), a, b)
			require.ErrorIs(t, err, framework.ErrTypeNotSupported)
		})
	}
	assert.Zero(t, env.allocator.Allocations())
}

func TestMatrixAdd_MissingBias(t *testing.T) {
	env := newTestEnv(t, 0)
	a := fromSlice(t, []float32{1}, tensor.Shape{1, 1, 1, 1})

	def := Node("add", tensor.CPU, tensor.Float32, 0)
	delete(def.Attrs, AttrBias)
	_, err := env.exec.Run(def, a, a)
	require.ErrorIs(t, err, framework.ErrInvalidAttr)

	def = Node("add", tensor.CPU, tensor.Float32, 0)
	def.Attrs[AttrBias] = framework.Type(tensor.Float32)
	_, err = env.exec.Run(def, a, a)
	require.ErrorIs(t, err, framework.ErrInvalidAttr)
}

func TestMatrixAdd_AllocationFailure(t *testing.T) {
	env := newTestEnv(t, 64)
	shape := tensor.Shape{1, 2, 3, 4} // 24 float32 = 96 bytes
	a, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	for _, dev := range devices {
		out, err := env.exec.Run(Node("add", dev, tensor.Float32, 0), a, a)
		require.ErrorIs(t, err, framework.ErrAllocationFailure)
		assert.Nil(t, out)
	}
	assert.Equal(t, int64(0), env.host.Launches())
}

func TestMatrixAdd_UnknownDimsMerge(t *testing.T) {
	env := newTestEnv(t, 0)
	node, err := env.exec.Prepare(Node("add", tensor.CPU, tensor.Float32, 0), []framework.TensorSpec{
		{Shape: tensor.Shape{tensor.UnknownDim, 3, 4, tensor.UnknownDim}, DType: tensor.Float32},
		{Shape: tensor.Shape{2, tensor.UnknownDim, 4, tensor.UnknownDim}, DType: tensor.Float32},
	})
	require.NoError(t, err)
	assert.Equal(t, []tensor.Shape{{2, 3, 4, tensor.UnknownDim}}, node.OutputShapes())

	a, err := tensor.NewRaw(tensor.Shape{2, 3, 4, 6}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	out, err := node.Compute(a, a)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 4, 6}, out[0].Shape())

	// Concrete shapes are rechecked against each other.
	c, err := tensor.NewRaw(tensor.Shape{2, 3, 4, 7}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	_, err = node.Compute(a, c)
	require.ErrorIs(t, err, framework.ErrShapeMismatch)
}

func TestMatrixAddGrad_PassesGradientThrough(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{2, 2, 3, 5}
	n := shape.NumElements()

	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			grad := fromSlice(t, ramp[float32](n, 0.5, -2), shape)
			a := fromSlice(t, ramp[float32](n, 3, 1), shape)
			b := fromSlice(t, ramp[float32](n, -1, 9), shape)
			fwd := Node("add", dev, tensor.Float32, 2)

			out, err := env.exec.Run(GradNode(fwd), grad, a, b)
			require.NoError(t, err)
			require.Len(t, out, 2)
			assert.Equal(t, shape, out[0].Shape())
			assert.Equal(t, shape, out[1].Shape())
			assert.Equal(t, grad.AsFloat32(), out[0].AsFloat32())
			assert.Equal(t, grad.AsFloat32(), out[1].AsFloat32())
		})
	}
}

func TestMatrixAddGrad_AllTypes(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{1, 2, 2, 2}

	for _, dev := range devices {
		g32 := fromSlice(t, ramp[int32](8, 3, -10), shape)
		out, err := env.exec.Run(GradNode(Node("i", dev, tensor.Int32, 0.5)), g32, g32, g32)
		require.NoError(t, err)
		assert.Equal(t, g32.AsInt32(), out[0].AsInt32())
		assert.Equal(t, g32.AsInt32(), out[1].AsInt32())

		g64 := fromSlice(t, ramp[float64](8, 0.125, -1), shape)
		out, err = env.exec.Run(GradNode(Node("f", dev, tensor.Float64, 0.5)), g64, g64, g64)
		require.NoError(t, err)
		assert.True(t, floats.Equal(g64.AsFloat64(), out[0].AsFloat64()))
		assert.True(t, floats.Equal(g64.AsFloat64(), out[1].AsFloat64()))
	}
}

func TestMatrixAddGrad_ShapeMismatch(t *testing.T) {
	env := newTestEnv(t, 0)
	g, err := tensor.NewRaw(tensor.Shape{1, 2, 3, 4}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	b, err := tensor.NewRaw(tensor.Shape{1, 2, 3, 5}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)

	_, err = env.exec.Run(GradNode(Node("add", tensor.CPU, tensor.Float32, 0)), g, g, b)
	require.ErrorIs(t, err, framework.ErrShapeMismatch)
	assert.Zero(t, env.allocator.Allocations())
}

func TestGradNode(t *testing.T) {
	fwd := Node("layer1", tensor.GPU, tensor.Float64, 0.25)
	grad := GradNode(fwd)

	assert.Equal(t, "layer1/grad", grad.Name)
	assert.Equal(t, GradOpName, grad.Op)
	assert.Equal(t, tensor.GPU, grad.Device)
	assert.Equal(t, fwd.Attrs, grad.Attrs)

	grad.Attrs[AttrBias] = framework.Float(9)
	bias, err := fwd.Attrs.GetFloat(AttrBias)
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), bias, "attrs must be copied")

	assert.Equal(t, GradOpName, GradNode(framework.NodeDef{Op: OpName}).Name)
}

func TestRegister(t *testing.T) {
	reg := framework.NewRegistry()
	require.NoError(t, Register(reg))

	assert.Equal(t, []string{OpName, GradOpName}, reg.Ops())
	assert.Len(t, reg.KernelKeys(), 12)
	for _, op := range []string{OpName, GradOpName} {
		for _, dev := range devices {
			for _, dt := range tensor.RealNumberTypes() {
				_, err := reg.Kernel(framework.KernelKey{Op: op, Device: dev, DType: dt})
				assert.NoError(t, err, "%s/%s/%s", op, dev, dt)
			}
		}
	}

	gradOp, ok := reg.Gradient(OpName)
	require.True(t, ok)
	assert.Equal(t, GradOpName, gradOp)

	require.ErrorIs(t, Register(reg), framework.ErrDuplicateRegistration)
}

func TestRegister_DefaultRegistry(t *testing.T) {
	_, err := framework.Default.Op(OpName)
	require.NoError(t, err)
	_, err = framework.Default.Kernel(framework.KernelKey{Op: GradOpName, Device: tensor.GPU, DType: tensor.Float64})
	require.NoError(t, err)
}

func TestMatrixAdd_GPUWithoutLauncher(t *testing.T) {
	reg := framework.NewRegistry()
	require.NoError(t, Register(reg))
	exec := framework.NewExecutor(framework.Options{Registry: reg})

	a := fromSlice(t, []float32{1}, tensor.Shape{1, 1, 1, 1})
	_, err := exec.Run(Node("add", tensor.GPU, tensor.Float32, 0), a, a)
	require.ErrorIs(t, err, framework.ErrDeviceLaunch)
	require.ErrorIs(t, err, device.ErrUnavailable)
}

// f32Launcher runs on a host stream but, like WGSL, has no float64 arithmetic.
type f32Launcher struct {
	*device.Host
}

func (f32Launcher) SupportsAddBias(dt tensor.DataType) bool {
	return dt == tensor.Float32 || dt == tensor.Int32
}

func TestMatrixAdd_LauncherWithoutDTypeFailsAtPrepare(t *testing.T) {
	reg := framework.NewRegistry()
	require.NoError(t, Register(reg))
	host := device.NewHost(device.DefaultHostConfig())
	t.Cleanup(host.Release)
	alloc := framework.NewHeapAllocator(0)
	exec := framework.NewExecutor(framework.Options{Registry: reg, Allocator: alloc, Launcher: f32Launcher{host}})

	spec := framework.TensorSpec{Shape: tensor.Shape{1, 1, 1, 2}, DType: tensor.Float64}
	_, err := exec.Prepare(Node("add", tensor.GPU, tensor.Float64, 1), []framework.TensorSpec{spec, spec})
	require.ErrorIs(t, err, framework.ErrTypeNotSupported)
	require.ErrorIs(t, err, device.ErrUnsupportedDType)
	assert.Zero(t, alloc.Allocations())
	assert.Zero(t, host.Launches())

	// The gradient is a bit copy and still runs; so does the CPU kernel.
	_, err = exec.Prepare(GradNode(Node("add", tensor.GPU, tensor.Float64, 1)), []framework.TensorSpec{spec, spec, spec})
	require.NoError(t, err)
	_, err = exec.Prepare(Node("add", tensor.CPU, tensor.Float64, 1), []framework.TensorSpec{spec, spec})
	require.NoError(t, err)
	_, err = exec.Prepare(Node("add", tensor.GPU, tensor.Float32, 1), []framework.TensorSpec{
		{Shape: spec.Shape, DType: tensor.Float32}, {Shape: spec.Shape, DType: tensor.Float32},
	})
	require.NoError(t, err)
}

func TestMatrixAdd_ConcurrentCompute(t *testing.T) {
	env := newTestEnv(t, 0)
	shape := tensor.Shape{2, 8, 16, 64}
	n := shape.NumElements()
	specs := []framework.TensorSpec{{Shape: shape, DType: tensor.Float32}, {Shape: shape, DType: tensor.Float32}}

	for _, dev := range devices {
		t.Run(dev.String(), func(t *testing.T) {
			fwd := Node("add", dev, tensor.Float32, 0.5)
			add, err := env.exec.Prepare(fwd, specs)
			require.NoError(t, err)
			grad, err := env.exec.Prepare(GradNode(fwd), append(specs, specs[0]))
			require.NoError(t, err)

			const workers = 16
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					a, err := tensor.FromSlice(ramp[float32](n, 1, float64(w)), shape, tensor.CPU)
					if !assert.NoError(t, err) {
						return
					}
					b, err := tensor.FromSlice(ramp[float32](n, 2, 0), shape, tensor.CPU)
					if !assert.NoError(t, err) {
						return
					}

					out, err := add.Compute(a, b)
					if !assert.NoError(t, err) {
						return
					}
					got := out[0].AsFloat32()
					assert.Equal(t, float32(w)+0.5, got[0])
					assert.Equal(t, float32(3*(n-1)+w)+0.5, got[n-1])

					grads, err := grad.Compute(b, a, a)
					if !assert.NoError(t, err) {
						return
					}
					assert.Equal(t, b.AsFloat32(), grads[0].AsFloat32())
					assert.Equal(t, b.AsFloat32(), grads[1].AsFloat32())
				}(w)
			}
			wg.Wait()
		})
	}
}

func BenchmarkMatrixAdd(b *testing.B) {
	reg := framework.NewRegistry()
	require.NoError(b, Register(reg))
	host := device.NewHost(device.DefaultHostConfig())
	defer host.Release()
	exec := framework.NewExecutor(framework.Options{Registry: reg, Launcher: host})

	shape := tensor.Shape{16, 32, 32, 8}
	x, err := tensor.Full(shape, float32(1), tensor.CPU)
	require.NoError(b, err)

	for _, dev := range devices {
		node, err := exec.Prepare(Node("add", dev, tensor.Float32, 0.5),
			[]framework.TensorSpec{framework.SpecOf(x), framework.SpecOf(x)})
		require.NoError(b, err)
		b.Run(dev.String(), func(b *testing.B) {
			b.SetBytes(int64(3 * x.ByteSize()))
			for i := 0; i < b.N; i++ {
				if _, err := node.Compute(x, x); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
