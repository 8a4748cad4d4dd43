// Copyright 2025 The tf-custom-op Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the host stream: a device launcher that runs
// MatrixAdd launches in host memory, in order, on a background worker.
//
// It stands in for an accelerator wherever none is available, so GPU-placed
// nodes can run on any machine.
//
// # Basic Usage
//
//	stream := cpu.New()
//	defer stream.Release()
//
//	r := matrixadd.New(matrixadd.Config{Device: tensor.GPU, Launcher: stream})
package cpu

import (
	"github.com/PatWie/tf-custom-op/internal/device"
	"github.com/PatWie/tf-custom-op/internal/parallel"
)

// Stream is the host stream launcher.
type Stream = device.Host

// Config controls the worker split and queue depth of a Stream.
type Config = device.HostConfig

// ParallelConfig controls how a single launch is split across goroutines.
type ParallelConfig = parallel.Config

// DefaultConfig returns a config sized to the number of CPUs.
func DefaultConfig() Config {
	return device.DefaultHostConfig()
}

// New creates a host stream with DefaultConfig.
func New() *Stream {
	return device.NewHost(device.DefaultHostConfig())
}

// NewWithConfig creates a host stream with cfg.
func NewWithConfig(cfg Config) *Stream {
	return device.NewHost(cfg)
}
