package framework

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSealed is returned when registering into a registry that is in use.
var ErrSealed = errors.New("registry sealed")

// Registry maps operator names to schemas and (op, device, dtype) triples
// to kernel factories. It is filled at load time and sealed once an
// executor starts using it.
type Registry struct {
	mu        sync.RWMutex
	ops       map[string]*OpDef
	kernels   map[KernelKey]KernelFactory
	gradients map[string]string
	sealed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		ops:       make(map[string]*OpDef),
		kernels:   make(map[KernelKey]KernelFactory),
		gradients: make(map[string]string),
	}
}

// Default is the process-wide registry operator packages register into from init.
var Default = NewRegistry()

// MustRegister panics if a load-time registration failed.
func MustRegister(err error) {
	if err != nil {
		panic(fmt.Sprintf("framework: registration failed: %v", err))
	}
}

// RegisterOp adds an operator schema.
func (r *Registry) RegisterOp(def OpDef) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: op %s", ErrSealed, def.Name)
	}
	if _, ok := r.ops[def.Name]; ok {
		return fmt.Errorf("%w: op %s", ErrDuplicateRegistration, def.Name)
	}
	r.ops[def.Name] = &def
	return nil
}

// RegisterKernel binds a factory to exactly one (op, device, dtype) triple.
// The op must be registered and its type attribute must allow the dtype.
func (r *Registry) RegisterKernel(key KernelKey, factory KernelFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrInvalidArgument, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: kernel %s", ErrSealed, key)
	}
	def, ok := r.ops[key.Op]
	if !ok {
		return fmt.Errorf("%w: kernel %s", ErrOpNotFound, key)
	}
	for _, attr := range def.Attrs {
		if attr.Type == AttrDType && !attr.allows(key.DType) {
			return fmt.Errorf("%w: kernel %s: attr %s does not allow %s", ErrInvalidArgument, key, attr, key.DType)
		}
	}
	if _, ok := r.kernels[key]; ok {
		return fmt.Errorf("%w: kernel %s", ErrDuplicateRegistration, key)
	}
	r.kernels[key] = factory
	return nil
}

// RegisterGradient records that gradOp computes the gradient of op.
func (r *Registry) RegisterGradient(op, gradOp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: gradient of %s", ErrSealed, op)
	}
	for _, name := range []string{op, gradOp} {
		if _, ok := r.ops[name]; !ok {
			return fmt.Errorf("%w: %s", ErrOpNotFound, name)
		}
	}
	if _, ok := r.gradients[op]; ok {
		return fmt.Errorf("%w: gradient of %s", ErrDuplicateRegistration, op)
	}
	r.gradients[op] = gradOp
	return nil
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Op returns the schema of a registered operator.
func (r *Registry) Op(name string) (*OpDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOpNotFound, name)
	}
	return def, nil
}

// Kernel returns the factory registered for key.
func (r *Registry) Kernel(key KernelKey) (KernelFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.kernels[key]
	if !ok {
		return nil, fmt.Errorf("%w: no kernel registered for %s", ErrTypeNotSupported, key)
	}
	return f, nil
}

// Gradient returns the gradient operator registered for op.
func (r *Registry) Gradient(op string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gradients[op]
	return g, ok
}

// Ops returns all registered operator names, sorted.
func (r *Registry) Ops() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KernelKeys returns all registered kernel keys ordered by op, device, dtype.
func (r *Registry) KernelKeys() []KernelKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]KernelKey, 0, len(r.kernels))
	for k := range r.kernels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Op != keys[j].Op {
			return keys[i].Op < keys[j].Op
		}
		if keys[i].Device != keys[j].Device {
			return keys[i].Device < keys[j].Device
		}
		return keys[i].DType < keys[j].DType
	})
	return keys
}
