package framework

import (
	"fmt"
	"sync/atomic"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Allocator hands out output tensors on behalf of the host runtime.
type Allocator interface {
	Allocate(shape tensor.Shape, dtype tensor.DataType, device tensor.Device) (*tensor.RawTensor, error)
}

// HeapAllocator allocates zeroed tensors from the Go heap.
// MaxBytes > 0 rejects any single request larger than MaxBytes.
type HeapAllocator struct {
	MaxBytes int64

	bytes       atomic.Int64
	allocations atomic.Int64
}

// NewHeapAllocator creates an allocator with the given per-request limit (0 = unlimited).
func NewHeapAllocator(maxBytes int64) *HeapAllocator {
	return &HeapAllocator{MaxBytes: maxBytes}
}

// Allocate returns a new tensor or an error if the shape is invalid or the
// request exceeds MaxBytes.
func (h *HeapAllocator) Allocate(shape tensor.Shape, dtype tensor.DataType, device tensor.Device) (*tensor.RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	n, err := shape.ByteSize(dtype)
	if err != nil {
		return nil, err
	}
	size := int64(n)
	if h.MaxBytes > 0 && size > h.MaxBytes {
		return nil, fmt.Errorf("request of %d bytes exceeds limit of %d bytes", size, h.MaxBytes)
	}
	raw, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	h.bytes.Add(size)
	h.allocations.Add(1)
	return raw, nil
}

// BytesAllocated returns the total bytes handed out so far.
func (h *HeapAllocator) BytesAllocated() int64 {
	return h.bytes.Load()
}

// Allocations returns the number of tensors handed out so far.
func (h *HeapAllocator) Allocations() int64 {
	return h.allocations.Load()
}
