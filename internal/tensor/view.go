package tensor

import (
	"fmt"
	"unsafe"
)

// View is a borrowed, non-owning flat window over a tensor buffer.
// It carries an explicit element count and must not be retained beyond the
// invocation that produced it.
type View struct {
	ptr   unsafe.Pointer
	n     int
	dtype DataType
}

// Flat returns a flat view over every element of the tensor.
func (r *RawTensor) Flat() View {
	return View{
		ptr:   unsafe.Pointer(&r.data[0]),
		n:     r.NumElements(),
		dtype: r.dtype,
	}
}

// Len returns the number of elements in the view.
func (v View) Len() int {
	return v.n
}

// DType returns the element type of the view.
func (v View) DType() DataType {
	return v.dtype
}

// ByteLen returns the size of the view in bytes.
func (v View) ByteLen() int {
	return v.n * v.dtype.Size()
}

// Bytes returns the viewed memory as a byte slice.
func (v View) Bytes() []byte {
	if v.n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice over a borrowed tensor buffer of ByteLen bytes
	return unsafe.Slice((*byte)(v.ptr), v.ByteLen())
}

// Same reports whether two views cover the same memory.
func (v View) Same(other View) bool {
	return v.ptr == other.ptr && v.n == other.n
}

// ViewElements interprets the view as []T.
// Panics if T does not match the view's dtype.
func ViewElements[T DType](v View) []T {
	if want := DataTypeOf[T](); v.dtype != want {
		panic(fmt.Sprintf("view dtype is %s, not %s", v.dtype, want))
	}
	if v.n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access over n elements
	return unsafe.Slice((*T)(v.ptr), v.n)
}
