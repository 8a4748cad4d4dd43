// Package framework is the host-runtime contract the operator kernels are
// written against: op schemas with shape functions, a (op, device, dtype)
// kernel registry, kernel construction and execution contexts, output
// allocation, and a small executor that drives them.
package framework

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// ArgDef declares one input or output of an operator.
// TypeAttr names the attribute that carries the element type.
type ArgDef struct {
	Name     string
	TypeAttr string
}

// ShapeFn validates input shapes and sets output shapes during graph construction.
type ShapeFn func(c *InferenceContext) error

// OpDef is the registration record of an operator.
type OpDef struct {
	Name    string
	Inputs  []ArgDef
	Outputs []ArgDef
	Attrs   []AttrDef
	ShapeFn ShapeFn // nil leaves outputs unknown
	Doc     string
}

// Attr returns the attribute definition with the given name.
func (d *OpDef) Attr(name string) (AttrDef, bool) {
	for _, a := range d.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return AttrDef{}, false
}

// validate checks the definition itself at registration time.
func (d *OpDef) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: op with empty name", ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(d.Attrs))
	for _, a := range d.Attrs {
		if seen[a.Name] {
			return fmt.Errorf("%w: op %s declares attr %q twice", ErrInvalidArgument, d.Name, a.Name)
		}
		seen[a.Name] = true
	}
	for _, args := range [][]ArgDef{d.Inputs, d.Outputs} {
		for _, arg := range args {
			if def, ok := d.Attr(arg.TypeAttr); !ok || def.Type != AttrDType {
				return fmt.Errorf("%w: op %s arg %q refers to undeclared type attr %q",
					ErrInvalidArgument, d.Name, arg.Name, arg.TypeAttr)
			}
		}
	}
	return nil
}

// resolveAttrs fills defaults and checks every declared attribute against
// the schema. Attributes not declared by the op are rejected.
func (d *OpDef) resolveAttrs(given Attrs) (Attrs, error) {
	out := make(Attrs, len(d.Attrs))
	for _, def := range d.Attrs {
		v, ok := given[def.Name]
		if !ok {
			if def.Default == nil {
				return nil, fmt.Errorf("%w: %s: missing attr %q", ErrInvalidAttr, d.Name, def.Name)
			}
			v = *def.Default
		}
		if v.Type != def.Type {
			return nil, fmt.Errorf("%w: %s: attr %q must be %s, got %s",
				ErrInvalidAttr, d.Name, def.Name, def.Type, v.Type)
		}
		if def.Type == AttrDType && !def.allows(v.T) {
			return nil, fmt.Errorf("%w: %s: attr %s does not allow %s",
				ErrTypeNotSupported, d.Name, def, v.T)
		}
		out[def.Name] = v
	}
	for name := range given {
		if _, ok := d.Attr(name); !ok {
			return nil, fmt.Errorf("%w: %s: unknown attr %q", ErrInvalidAttr, d.Name, name)
		}
	}
	return out, nil
}

// NodeDef is one operator instance in a graph: the op name, the device it
// is placed on, and its attribute values.
type NodeDef struct {
	Name   string
	Op     string
	Device tensor.Device
	Attrs  Attrs
}
