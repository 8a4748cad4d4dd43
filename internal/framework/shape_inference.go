package framework

import (
	"fmt"

	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// InferenceContext is handed to an op's ShapeFn during graph construction.
// Input shapes may contain tensor.UnknownDim.
type InferenceContext struct {
	op      string
	inputs  []tensor.Shape
	outputs []tensor.Shape
	attrs   Attrs
}

// NewInferenceContext creates a context for numOutputs outputs.
func NewInferenceContext(op string, inputs []tensor.Shape, numOutputs int, attrs Attrs) *InferenceContext {
	return &InferenceContext{
		op:      op,
		inputs:  inputs,
		outputs: make([]tensor.Shape, numOutputs),
		attrs:   attrs,
	}
}

// NumInputs returns the number of input shapes.
func (c *InferenceContext) NumInputs() int {
	return len(c.inputs)
}

// Input returns the shape of input i.
func (c *InferenceContext) Input(i int) tensor.Shape {
	return c.inputs[i]
}

// WithRank returns input i if it has exactly rank dimensions.
func (c *InferenceContext) WithRank(i, rank int) (tensor.Shape, error) {
	s := c.inputs[i]
	if s.Rank() != rank {
		return nil, &ShapeError{
			Op:      c.op,
			Input:   i,
			Details: fmt.Sprintf("shape must be rank %d but is rank %d (%v)", rank, s.Rank(), s),
		}
	}
	return s, nil
}

// Merge unifies two shapes dimension by dimension. Known dimensions must be
// equal; an unknown dimension takes the other side's value.
func (c *InferenceContext) Merge(a, b tensor.Shape) (tensor.Shape, error) {
	if a.Rank() != b.Rank() {
		return nil, &ShapeError{
			Op:      c.op,
			Input:   -1,
			Details: fmt.Sprintf("shapes %v and %v have different ranks", a, b),
		}
	}
	out := make(tensor.Shape, a.Rank())
	for i := range a {
		switch {
		case a[i] == tensor.UnknownDim:
			out[i] = b[i]
		case b[i] == tensor.UnknownDim || a[i] == b[i]:
			out[i] = a[i]
		default:
			return nil, &ShapeError{
				Op:      c.op,
				Input:   -1,
				Details: fmt.Sprintf("dimension %d in both shapes must be equal, but are %d and %d (%v vs %v)", i, a[i], b[i], a, b),
			}
		}
	}
	return out, nil
}

// Dim returns dimension i of s.
func (c *InferenceContext) Dim(s tensor.Shape, i int) int {
	return s[i]
}

// MakeShape builds a shape from dimensions.
func (c *InferenceContext) MakeShape(dims ...int) tensor.Shape {
	return tensor.Shape(dims).Clone()
}

// SetOutput sets the shape of output i.
func (c *InferenceContext) SetOutput(i int, s tensor.Shape) {
	c.outputs[i] = s
}

// Output returns the shape set for output i, nil if unset.
func (c *InferenceContext) Output(i int) tensor.Shape {
	return c.outputs[i]
}

// GetAttrFloat returns a float attribute of the node being inferred.
func (c *InferenceContext) GetAttrFloat(name string) (float32, error) {
	return c.attrs.GetFloat(name)
}
