// Copyright 2025 The tf-custom-op Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// RawTensor is a dense host buffer with shape, dtype and device.
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3, 4, 5}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32() // zero-copy access
type RawTensor = tensor.RawTensor

// Shape is the list of dimensions of a tensor.
type Shape = tensor.Shape

// DataType is the runtime element type of a tensor.
type DataType = tensor.DataType

// Device is the placement of a tensor or kernel.
type Device = tensor.Device

// View is a borrowed flat window over a tensor buffer.
type View = tensor.View

// DType is the constraint satisfied by element types that have kernels.
type DType = tensor.DType

// UnknownDim marks a dimension unknown during shape inference.
const UnknownDim = tensor.UnknownDim

// Data types.
const (
	Float32   = tensor.Float32
	Float64   = tensor.Float64
	Int32     = tensor.Int32
	Int64     = tensor.Int64
	Uint8     = tensor.Uint8
	Bool      = tensor.Bool
	Complex64 = tensor.Complex64
)

// Devices.
const (
	CPU = tensor.CPU
	GPU = tensor.GPU
)

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice creates a tensor holding a copy of data.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, device)
}

// Full creates a tensor with every element set to value.
func Full[T DType](shape Shape, value T, device Device) (*RawTensor, error) {
	return tensor.Full(shape, value, device)
}

// Elements returns the tensor buffer as []T without copying.
// It panics if T does not match the tensor's dtype.
func Elements[T DType](r *RawTensor) []T {
	return tensor.Elements[T](r)
}

// ParseDataType maps a dtype name such as "float32" to a DataType.
func ParseDataType(name string) (DataType, bool) {
	return tensor.ParseDataType(name)
}

// ParseDevice maps "cpu" or "gpu" to a Device.
func ParseDevice(name string) (Device, bool) {
	return tensor.ParseDevice(name)
}

// RealNumberTypes lists the data types with kernels.
func RealNumberTypes() []DataType {
	return tensor.RealNumberTypes()
}
