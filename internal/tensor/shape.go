package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooLarge is returned when a shape's byte size does not fit in an int.
var ErrTooLarge = errors.New("tensor too large")

// UnknownDim marks a dimension whose size is not known during shape inference.
const UnknownDim = -1

// Shape represents the dimensions of a tensor.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// ByteSize returns the buffer size of a tensor of this shape and dtype.
// The shape must be valid; a product that overflows returns ErrTooLarge.
func (s Shape) ByteSize(dtype DataType) (int, error) {
	n := dtype.Size()
	for _, dim := range s {
		if dim > 0 && n > (math.MaxInt-7)/dim {
			return 0, fmt.Errorf("%w: %v of %s", ErrTooLarge, s, dtype)
		}
		n *= dim
	}
	return n, nil
}

// IsFullyDefined reports whether every dimension is known.
func (s Shape) IsFullyDefined() bool {
	for _, dim := range s {
		if dim == UnknownDim {
			return false
		}
	}
	return true
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Compatible reports whether a concrete shape satisfies a possibly partial one.
func (s Shape) Compatible(partial Shape) bool {
	if len(s) != len(partial) {
		return false
	}
	for i := range s {
		if partial[i] != UnknownDim && partial[i] != s[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape as [d0,d1,...] with ? for unknown dimensions.
func (s Shape) String() string {
	buf := make([]byte, 0, 2+4*len(s))
	buf = append(buf, '[')
	for i, dim := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		if dim == UnknownDim {
			buf = append(buf, '?')
			continue
		}
		buf = fmt.Appendf(buf, "%d", dim)
	}
	return string(append(buf, ']'))
}
