package device

import (
	"sync"
	"testing"

	"github.com/PatWie/tf-custom-op/internal/parallel"
	"github.com/PatWie/tf-custom-op/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost(HostConfig{
		Parallel:   parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8},
		QueueDepth: 4,
	})
	t.Cleanup(h.Release)
	return h
}

func mustFromSlice[T tensor.DType](t *testing.T, data []T, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(data, shape, tensor.GPU)
	require.NoError(t, err)
	return raw
}

func mustNew(t *testing.T, shape tensor.Shape, dt tensor.DataType) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, dt, tensor.GPU)
	require.NoError(t, err)
	return raw
}

func TestHost_LaunchAddBias(t *testing.T) {
	h := newTestHost(t)
	shape := tensor.Shape{2, 3, 4, 5}
	n := shape.NumElements()

	t.Run("float32", func(t *testing.T) {
		aData := make([]float32, n)
		bData := make([]float32, n)
		for i := range aData {
			aData[i] = float32(i)
			bData[i] = float32(2 * i)
		}
		a := mustFromSlice(t, aData, shape)
		b := mustFromSlice(t, bData, shape)
		out := mustNew(t, shape, tensor.Float32)

		require.NoError(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), 0.5))
		require.NoError(t, h.Synchronize())

		for i, got := range out.AsFloat32() {
			assert.Equal(t, aData[i]+bData[i]+0.5, got, "index %d", i)
		}
	})

	t.Run("float64", func(t *testing.T) {
		a := mustFromSlice(t, []float64{1, 2, 3}, tensor.Shape{1, 1, 1, 3})
		b := mustFromSlice(t, []float64{1, 1, 1}, tensor.Shape{1, 1, 1, 3})
		out := mustNew(t, tensor.Shape{1, 1, 1, 3}, tensor.Float64)

		require.NoError(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), -1))
		require.NoError(t, h.Synchronize())

		assert.Equal(t, []float64{1, 2, 3}, out.AsFloat64())
	})

	t.Run("int32", func(t *testing.T) {
		a := mustFromSlice(t, []int32{1, 1, 1}, tensor.Shape{1, 1, 1, 3})
		b := mustFromSlice(t, []int32{1, 1, 1}, tensor.Shape{1, 1, 1, 3})
		out := mustNew(t, tensor.Shape{1, 1, 1, 3}, tensor.Int32)

		require.NoError(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), 0.5))
		require.NoError(t, h.Synchronize())

		assert.Equal(t, []int32{2, 2, 2}, out.AsInt32())
	})
}

func TestHost_LaunchAddBiasGrad(t *testing.T) {
	h := newTestHost(t)
	shape := tensor.Shape{1, 2, 3, 4}
	n := shape.NumElements()

	gData := make([]float32, n)
	for i := range gData {
		gData[i] = float32(i) - 7
	}
	g := mustFromSlice(t, gData, shape)
	a := mustNew(t, shape, tensor.Float32)
	b := mustNew(t, shape, tensor.Float32)
	gradA := mustNew(t, shape, tensor.Float32)
	gradB := mustNew(t, shape, tensor.Float32)

	require.NoError(t, h.LaunchAddBiasGrad(g.Flat(), a.Flat(), b.Flat(), gradA.Flat(), gradB.Flat()))
	require.NoError(t, h.Synchronize())

	assert.Equal(t, gData, gradA.AsFloat32())
	assert.Equal(t, gData, gradB.AsFloat32())
}

func TestHost_PreservesLaunchOrder(t *testing.T) {
	h := newTestHost(t)
	shape := tensor.Shape{1, 1, 4, 64}

	a, err := tensor.Full[float32](shape, 1, tensor.GPU)
	require.NoError(t, err)
	zero := mustNew(t, shape, tensor.Float32)
	x := mustNew(t, shape, tensor.Float32)
	y := mustNew(t, shape, tensor.Float32)

	// x = a + 0 + 1, then y = x + 0 + 1; y depends on the first launch.
	require.NoError(t, h.LaunchAddBias(x.Flat(), a.Flat(), zero.Flat(), 1))
	require.NoError(t, h.LaunchAddBias(y.Flat(), x.Flat(), zero.Flat(), 1))
	require.NoError(t, h.Synchronize())

	for _, v := range y.AsFloat32() {
		require.Equal(t, float32(3), v)
	}
	assert.Equal(t, int64(2), h.Launches())
}

func TestHost_ArgumentErrorsAreSynchronous(t *testing.T) {
	h := newTestHost(t)
	shape := tensor.Shape{1, 1, 1, 4}

	a := mustNew(t, shape, tensor.Float32)
	b := mustNew(t, shape, tensor.Float32)
	out := mustNew(t, shape, tensor.Float32)

	t.Run("length mismatch", func(t *testing.T) {
		short := mustNew(t, tensor.Shape{1, 1, 1, 3}, tensor.Float32)
		err := h.LaunchAddBias(out.Flat(), a.Flat(), short.Flat(), 0)
		assert.ErrorIs(t, err, ErrInvalidLaunch)
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		ints := mustNew(t, shape, tensor.Int32)
		err := h.LaunchAddBias(out.Flat(), a.Flat(), ints.Flat(), 0)
		assert.ErrorIs(t, err, ErrInvalidLaunch)
	})

	t.Run("output aliases input", func(t *testing.T) {
		err := h.LaunchAddBias(a.Flat(), a.Flat(), b.Flat(), 0)
		assert.ErrorIs(t, err, ErrInvalidLaunch)
	})

	t.Run("unsupported dtype", func(t *testing.T) {
		c := mustNew(t, shape, tensor.Complex64)
		d := mustNew(t, shape, tensor.Complex64)
		e := mustNew(t, shape, tensor.Complex64)
		err := h.LaunchAddBias(c.Flat(), d.Flat(), e.Flat(), 0)
		assert.ErrorIs(t, err, ErrUnsupportedDType)
	})

	t.Run("gradient outputs alias", func(t *testing.T) {
		err := h.LaunchAddBiasGrad(a.Flat(), a.Flat(), b.Flat(), out.Flat(), out.Flat())
		assert.ErrorIs(t, err, ErrInvalidLaunch)
	})

	assert.Equal(t, int64(0), h.Launches(), "rejected launches must not be enqueued")
	assert.NoError(t, h.Synchronize())
}

func TestHost_Release(t *testing.T) {
	h := NewHost(DefaultHostConfig())
	shape := tensor.Shape{1, 1, 1, 2}
	a := mustNew(t, shape, tensor.Float32)
	b := mustNew(t, shape, tensor.Float32)
	out := mustNew(t, shape, tensor.Float32)

	require.NoError(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), 2))
	h.Release()
	h.Release() // idempotent

	assert.Equal(t, []float32{2, 2}, out.AsFloat32(), "release drains queued launches")
	assert.ErrorIs(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), 0), ErrReleased)
}

func TestHost_ConcurrentSynchronize(t *testing.T) {
	h := newTestHost(t)
	shape := tensor.Shape{2, 4, 8, 16}
	n := shape.NumElements()

	a, err := tensor.Full[float32](shape, 1, tensor.GPU)
	require.NoError(t, err)
	b, err := tensor.Full[float32](shape, 2, tensor.GPU)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(bias float32) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				out := mustNew(t, shape, tensor.Float32)
				if !assert.NoError(t, h.LaunchAddBias(out.Flat(), a.Flat(), b.Flat(), bias)) {
					return
				}
				if !assert.NoError(t, h.Synchronize()) {
					return
				}
				// The launch was enqueued before this caller's fence.
				got := out.AsFloat32()
				assert.Equal(t, 3+bias, got[0])
				assert.Equal(t, 3+bias, got[n-1])
			}
		}(float32(w))
	}
	wg.Wait()
	assert.Equal(t, int64(workers*8), h.Launches(), "fences are not counted as launches")
}

func TestHost_SynchronizeAfterRelease(t *testing.T) {
	h := NewHost(DefaultHostConfig())
	h.Release()
	assert.NoError(t, h.Synchronize())
}

func TestWebGPU_UnavailableIsReported(t *testing.T) {
	if WebGPUAvailable() {
		t.Skip("WebGPU adapter present")
	}
	_, err := NewWebGPU()
	assert.ErrorIs(t, err, ErrUnavailable)
}
