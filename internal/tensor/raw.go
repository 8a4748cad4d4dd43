package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device a kernel runs on.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	GPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// ParseDevice maps "cpu"/"CPU" and "gpu"/"GPU" to a Device.
func ParseDevice(name string) (Device, bool) {
	switch name {
	case "cpu", "CPU":
		return CPU, true
	case "gpu", "GPU":
		return GPU, true
	default:
		return 0, false
	}
}

// RawTensor is a dense row-major buffer with a shape and an element type.
// Buffers are owned by whoever allocated them (the host runtime); kernels
// only borrow them for one invocation.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is zero-initialized and 8-byte aligned.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	byteSize, err := shape.ByteSize(dtype)
	if err != nil {
		return nil, err
	}
	words := make([]uint64, (byteSize+7)/8)
	//nolint:gosec // unsafe.Slice over a uint64 backing array keeps 8-byte alignment
	data := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), byteSize)

	return &RawTensor{
		data:   data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, DataTypeOf[T](), device)
	if err != nil {
		return nil, err
	}
	copy(Elements[T](raw), data)
	return raw, nil
}

// Full creates a tensor with every element set to value.
func Full[T DType](shape Shape, value T, device Device) (*RawTensor, error) {
	raw, err := NewRaw(shape, DataTypeOf[T](), device)
	if err != nil {
		return nil, err
	}
	elems := Elements[T](raw)
	for i := range elems {
		elems[i] = value
	}
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the device the tensor was allocated for.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return len(r.data)
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// Zero clears every element.
func (r *RawTensor) Zero() {
	clear(r.data)
}

// Elements interprets the tensor data as []T.
// Panics if T does not match the tensor's dtype.
func Elements[T DType](r *RawTensor) []T {
	if want := DataTypeOf[T](); r.dtype != want {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, want))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*T)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat32 interprets the data as []float32.
func (r *RawTensor) AsFloat32() []float32 {
	return Elements[float32](r)
}

// AsFloat64 interprets the data as []float64.
func (r *RawTensor) AsFloat64() []float64 {
	return Elements[float64](r)
}

// AsInt32 interprets the data as []int32.
func (r *RawTensor) AsInt32() []int32 {
	return Elements[int32](r)
}
