// Copyright 2025 The tf-custom-op Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU device launcher for MatrixAdd.
//
// WebGPU is supported on Windows builds. On other platforms New returns
// ErrUnavailable and IsAvailable reports false.
//
// Example:
//
//	gpu, err := webgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gpu.Release()
//
//	r := matrixadd.New(matrixadd.Config{Device: tensor.GPU, Launcher: gpu})
//
// WGSL has no float64 arithmetic. A GPU-placed float64 MatrixAdd on this
// launcher is refused when the node is built, with ErrTypeNotSupported and
// ErrUnsupportedDType; place it on the CPU or run it on the host stream from
// backend/cpu instead. Gradient launches support every real number type.
package webgpu

import (
	"github.com/PatWie/tf-custom-op/internal/device"
)

// Launcher is the WebGPU device launcher.
type Launcher = device.WebGPU

// Errors reported by the launcher.
var (
	ErrUnavailable      = device.ErrUnavailable
	ErrUnsupportedDType = device.ErrUnsupportedDType
)

// New creates a WebGPU launcher on the default adapter.
// Call Release when done to free GPU resources.
func New() (*Launcher, error) {
	return device.NewWebGPU()
}

// IsAvailable checks whether a WebGPU adapter can be acquired.
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    gpu, _ := webgpu.New()
//	    launcher = gpu
//	} else {
//	    launcher = cpu.New()
//	}
func IsAvailable() bool {
	return device.WebGPUAvailable()
}
