package framework

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// AttrType is the declared type of an operator attribute.
type AttrType int

// Attribute types understood by the registry.
const (
	AttrFloat AttrType = iota + 1
	AttrDType
)

// String returns the schema spelling of the attribute type.
func (t AttrType) String() string {
	switch t {
	case AttrFloat:
		return "float"
	case AttrDType:
		return "type"
	default:
		return "invalid"
	}
}

// AttrValue is a single attribute value on a node.
type AttrValue struct {
	Type AttrType
	F    float32         // AttrFloat
	T    tensor.DataType // AttrDType
}

// Float returns a float attribute value.
func Float(f float32) AttrValue {
	return AttrValue{Type: AttrFloat, F: f}
}

// Type returns a dtype attribute value.
func Type(dt tensor.DataType) AttrValue {
	return AttrValue{Type: AttrDType, T: dt}
}

// AttrDef declares one attribute in an operator schema.
type AttrDef struct {
	Name    string
	Type    AttrType
	Allowed []tensor.DataType // AttrDType only; empty means any
	Default *AttrValue        // nil means required
}

// String renders the definition the way op docs spell it, e.g. "bias: float".
func (d AttrDef) String() string {
	if d.Type == AttrDType && len(d.Allowed) > 0 {
		s := d.Name + ": {"
		for i, dt := range d.Allowed {
			if i > 0 {
				s += ", "
			}
			s += dt.String()
		}
		return s + "}"
	}
	return d.Name + ": " + d.Type.String()
}

// allows reports whether dt is in the allowed set.
func (d AttrDef) allows(dt tensor.DataType) bool {
	if len(d.Allowed) == 0 {
		return true
	}
	for _, a := range d.Allowed {
		if a == dt {
			return true
		}
	}
	return false
}

// Attrs holds the attribute values of a node by name.
type Attrs map[string]AttrValue

// GetFloat returns a float attribute.
func (a Attrs) GetFloat(name string) (float32, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing attr %q", ErrInvalidAttr, name)
	}
	if v.Type != AttrFloat {
		return 0, fmt.Errorf("%w: attr %q is %s, not float", ErrInvalidAttr, name, v.Type)
	}
	return v.F, nil
}

// GetType returns a dtype attribute.
func (a Attrs) GetType(name string) (tensor.DataType, error) {
	v, ok := a[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing attr %q", ErrInvalidAttr, name)
	}
	if v.Type != AttrDType {
		return 0, fmt.Errorf("%w: attr %q is %s, not type", ErrInvalidAttr, name, v.Type)
	}
	return v.T, nil
}

// Clone returns a shallow copy of the attribute map.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
