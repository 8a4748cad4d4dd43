// Package main provides the matrixadd CLI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/PatWie/tf-custom-op/backend/cpu"
	"github.com/PatWie/tf-custom-op/backend/webgpu"
	"github.com/PatWie/tf-custom-op/matrixadd"
	"github.com/PatWie/tf-custom-op/tensor"
)

const version = "v0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "matrixadd %s\n", version)
		return nil
	case "ops":
		return listOps(stdout)
	case "run":
		return compute(args[1:], false, stdout, stderr)
	case "grad":
		return compute(args[1:], true, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "matrixadd - A + B + bias over rank-4 tensors")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  ops        List registered operators and kernels")
	fmt.Fprintln(w, "  run        Run MatrixAdd on generated inputs")
	fmt.Fprintln(w, "  grad       Run MatrixAddGrad on generated inputs")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'matrixadd run -h' for flags.")
}

func listOps(w io.Writer) error {
	for _, op := range matrixadd.Ops() {
		fmt.Fprintf(w, "%s(%s) -> (%s)\n", op.Name, strings.Join(op.Inputs, ", "), strings.Join(op.Outputs, ", "))
		for _, attr := range op.Attrs {
			fmt.Fprintf(w, "  attr %s\n", attr)
		}
	}
	fmt.Fprintln(w, "\nKernels:")
	for _, k := range matrixadd.Kernels() {
		fmt.Fprintf(w, "  %s\n", k)
	}
	return nil
}

type options struct {
	device   tensor.Device
	dtype    tensor.DataType
	backend  string
	bias     float64
	shape    tensor.Shape
	seed     uint64
	maxBytes int64
	verbose  bool
}

func parseFlags(name string, args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		deviceName = fs.String("device", "cpu", "kernel placement: cpu or gpu")
		dtypeName  = fs.String("dtype", "float32", "element type: int32, float32 or float64")
		backend    = fs.String("backend", "host", "launcher for gpu placement: host or webgpu")
		shapeSpec  = fs.String("shape", "1,1,1,3", "input shape B,M,N,D")
		opts       options
	)
	fs.Float64Var(&opts.bias, "bias", 0.5, "bias added to every element")
	fs.Uint64Var(&opts.seed, "seed", 0, "seed for random inputs; 0 uses a ramp")
	fs.Int64Var(&opts.maxBytes, "max-bytes", 0, "per-output allocation limit in bytes (0 = unlimited)")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging to stderr")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var ok bool
	if opts.device, ok = tensor.ParseDevice(*deviceName); !ok {
		return nil, fmt.Errorf("unknown device %q", *deviceName)
	}
	if opts.dtype, ok = tensor.ParseDataType(*dtypeName); !ok {
		return nil, fmt.Errorf("unknown dtype %q", *dtypeName)
	}
	shape, err := parseShape(*shapeSpec)
	if err != nil {
		return nil, err
	}
	opts.shape = shape
	opts.backend = *backend
	return &opts, nil
}

func parseShape(spec string) (tensor.Shape, error) {
	parts := strings.Split(spec, ",")
	shape := make(tensor.Shape, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("shape %q: %w", spec, err)
		}
		shape[i] = d
	}
	return shape, nil
}

func compute(args []string, grad bool, stdout, stderr io.Writer) error {
	name := "run"
	if grad {
		name = "grad"
	}
	opts, err := parseFlags(name, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := matrixadd.Config{Device: opts.device, MaxBytes: opts.maxBytes, Logger: logger}
	if opts.device == tensor.GPU {
		launcher, err := newLauncher(opts.backend)
		if err != nil {
			return err
		}
		defer launcher.Release()
		cfg.Launcher = launcher
		logger.Debug("using launcher", slog.String("name", launcher.Name()))
	}
	r := matrixadd.New(cfg)

	a, err := generate(opts.dtype, opts.shape, opts.seed, 1)
	if err != nil {
		return err
	}
	b, err := generate(opts.dtype, opts.shape, opts.seed, 2)
	if err != nil {
		return err
	}

	if !grad {
		out, err := r.Add(a, b, float32(opts.bias))
		if err != nil {
			return err
		}
		printTensor(stdout, "matrix_a", a)
		printTensor(stdout, "matrix_b", b)
		printTensor(stdout, "output", out)
		return nil
	}

	g, err := generate(opts.dtype, opts.shape, opts.seed, 3)
	if err != nil {
		return err
	}
	gradA, gradB, err := r.Grad(g, a, b, float32(opts.bias))
	if err != nil {
		return err
	}
	printTensor(stdout, "gradients", g)
	printTensor(stdout, "grad_matrix_a", gradA)
	printTensor(stdout, "grad_matrix_b", gradB)
	return nil
}

func newLauncher(backend string) (matrixadd.Launcher, error) {
	switch backend {
	case "host":
		return cpu.New(), nil
	case "webgpu":
		gpu, err := webgpu.New()
		if err != nil {
			return nil, fmt.Errorf("webgpu: %w", err)
		}
		return gpu, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// generate fills a tensor with a ramp scaled by k, or with uniform values
// in [-10, 10) when seed is non-zero. Unsupported dtypes get a zeroed
// tensor so the operator reports the type error.
func generate(dt tensor.DataType, shape tensor.Shape, seed uint64, k int) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(shape, dt, tensor.CPU)
	if err != nil {
		return nil, err
	}
	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewPCG(seed, uint64(k)))
	}
	value := func(i int) float64 {
		if rng != nil {
			return rng.Float64()*20 - 10
		}
		return float64(i * k)
	}
	switch dt {
	case tensor.Float32:
		fill(tensor.Elements[float32](raw), value)
	case tensor.Float64:
		fill(tensor.Elements[float64](raw), value)
	case tensor.Int32:
		fill(tensor.Elements[int32](raw), value)
	}
	return raw, nil
}

func fill[T tensor.DType](dst []T, value func(int) float64) {
	for i := range dst {
		dst[i] = T(value(i))
	}
}

const maxPrinted = 16

func printTensor(w io.Writer, name string, t *tensor.RawTensor) {
	var vals []string
	switch t.DType() {
	case tensor.Float32:
		vals = format(tensor.Elements[float32](t))
	case tensor.Float64:
		vals = format(tensor.Elements[float64](t))
	case tensor.Int32:
		vals = format(tensor.Elements[int32](t))
	}
	suffix := ""
	if t.NumElements() > maxPrinted {
		suffix = fmt.Sprintf(" ... (%d more)", t.NumElements()-maxPrinted)
	}
	fmt.Fprintf(w, "%s %v %s: [%s]%s\n", name, t.Shape(), t.DType(), strings.Join(vals, " "), suffix)
}

func format[T tensor.DType](data []T) []string {
	n := min(len(data), maxPrinted)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprint(data[i])
	}
	return out
}
