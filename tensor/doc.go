// Copyright 2025 The tf-custom-op Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the tensor data model used by the MatrixAdd
// operators.
//
// # Overview
//
// A RawTensor is a dense, row-major buffer with a Shape, a DataType and the
// Device it was allocated for. Buffers are owned by the caller; operators
// only borrow them for the duration of one invocation.
//
// # Basic Usage
//
//	import "github.com/PatWie/tf-custom-op/tensor"
//
//	func main() {
//	    a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 1, 1, 3}, tensor.CPU)
//	    fmt.Println(a.Shape(), a.DType()) // [1,1,1,3] float32
//	}
//
// # Supported Data Types
//
// Kernels exist for int32, float32 and float64 (see RealNumberTypes).
// Int64, Uint8, Bool and Complex64 can be described but every operator
// rejects them.
//
// # Unknown Dimensions
//
// UnknownDim (-1) may appear in shapes handed to graph construction. It
// never appears in an allocated tensor.
package tensor
