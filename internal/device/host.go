package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/PatWie/tf-custom-op/internal/elementwise"
	"github.com/PatWie/tf-custom-op/internal/parallel"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// HostConfig controls the emulated device stream.
type HostConfig struct {
	Parallel   parallel.Config // How one launch splits its flat range.
	QueueDepth int             // Launches buffered before Launch blocks.
}

// DefaultHostConfig returns sensible defaults based on CPU count.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		Parallel:   parallel.DefaultConfig(),
		QueueDepth: 64,
	}
}

// launch is one enqueued kernel body.
type launch func() error

// Host is a Launcher that emulates an accelerator stream in host memory.
// A single worker goroutine drains launches in FIFO order, so a launch
// observes the results of every launch enqueued before it. Each launch
// covers its whole flat range, split by the parallel config.
//
// Synchronize enqueues a fence behind the caller's launches, so concurrent
// callers each wait only for work enqueued before their own fence.
type Host struct {
	cfg   HostConfig
	queue chan launch

	mu     sync.Mutex // guards closed and sends on queue
	closed bool

	workerWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	launches atomic.Int64
}

// NewHost creates an emulated stream and starts its worker.
func NewHost(cfg HostConfig) *Host {
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	h := &Host{
		cfg:   cfg,
		queue: make(chan launch, cfg.QueueDepth),
	}
	h.workerWG.Add(1)
	go h.run()
	return h
}

// Name returns the launcher name.
func (h *Host) Name() string {
	return "host-stream"
}

// Launches returns how many kernels were enqueued so far.
func (h *Host) Launches() int64 {
	return h.launches.Load()
}

func (h *Host) run() {
	defer h.workerWG.Done()
	for l := range h.queue {
		h.execute(l)
	}
}

// execute runs one launch and records its error; a panic in a kernel body
// is reported as an execution error instead of tearing down the process.
func (h *Host) execute(l launch) {
	defer func() {
		if r := recover(); r != nil {
			h.recordErr(fmt.Errorf("host-stream: kernel panicked: %v", r))
		}
	}()
	if err := l(); err != nil {
		h.recordErr(err)
	}
}

func (h *Host) recordErr(err error) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *Host) enqueue(l launch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrReleased
	}
	h.queue <- l
	return nil
}

// enqueueKernel enqueues a kernel body and counts it.
func (h *Host) enqueueKernel(l launch) error {
	if err := h.enqueue(l); err != nil {
		return err
	}
	h.launches.Add(1)
	return nil
}

// takeErr returns and clears the recorded execution error.
func (h *Host) takeErr() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	err := h.err
	h.err = nil
	return err
}

// LaunchAddBias enqueues out = a + b + bias.
func (h *Host) LaunchAddBias(out, a, b tensor.View, bias float32) error {
	if err := ValidateAddBias(out, a, b); err != nil {
		return err
	}
	cfg := h.cfg.Parallel
	var body launch
	switch out.DType() {
	case tensor.Int32:
		body = addBiasLaunch[int32](out, a, b, bias, cfg)
	case tensor.Float32:
		body = addBiasLaunch[float32](out, a, b, bias, cfg)
	case tensor.Float64:
		body = addBiasLaunch[float64](out, a, b, bias, cfg)
	}
	return h.enqueueKernel(body)
}

// LaunchAddBiasGrad enqueues gradA = gradB = grad.
func (h *Host) LaunchAddBiasGrad(grad, a, b, gradA, gradB tensor.View) error {
	if err := ValidateAddBiasGrad(grad, a, b, gradA, gradB); err != nil {
		return err
	}
	cfg := h.cfg.Parallel
	var body launch
	switch grad.DType() {
	case tensor.Int32:
		body = gradLaunch[int32](grad, gradA, gradB, cfg)
	case tensor.Float32:
		body = gradLaunch[float32](grad, gradA, gradB, cfg)
	case tensor.Float64:
		body = gradLaunch[float64](grad, gradA, gradB, cfg)
	}
	return h.enqueueKernel(body)
}

func addBiasLaunch[T tensor.DType](out, a, b tensor.View, bias float32, cfg parallel.Config) launch {
	return func() error {
		dst := tensor.ViewElements[T](out)
		x := tensor.ViewElements[T](a)
		y := tensor.ViewElements[T](b)
		parallel.ForRange(len(dst), func(start, end int) {
			elementwise.AddBiasRange(dst, x, y, bias, start, end)
		}, cfg)
		return nil
	}
}

func gradLaunch[T tensor.DType](grad, gradA, gradB tensor.View, cfg parallel.Config) launch {
	return func() error {
		src := tensor.ViewElements[T](grad)
		dstA := tensor.ViewElements[T](gradA)
		dstB := tensor.ViewElements[T](gradB)
		parallel.ForRange(len(src), func(start, end int) {
			elementwise.CopyRange(dstA, dstB, src, start, end)
		}, cfg)
		return nil
	}
}

// Synchronize waits for every launch enqueued before it and returns the
// first execution error recorded since the previous fence ran.
//
// The fence is an ordinary launch: when the worker reaches it, all earlier
// launches have finished.
func (h *Host) Synchronize() error {
	done := make(chan error, 1)
	fence := func() error {
		done <- h.takeErr()
		return nil
	}
	if err := h.enqueue(fence); err != nil {
		// Released: the worker drained the queue before exiting.
		return h.takeErr()
	}
	return <-done
}

// Release drains the queue and stops the worker.
func (h *Host) Release() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()
	h.workerWG.Wait()
}
