// Package matrixadd implements the MatrixAdd operator (A + B + bias over
// two rank-4 tensors of equal shape) and its gradient MatrixAddGrad, with
// one CPU and one GPU kernel per supported element type.
package matrixadd

import (
	"github.com/PatWie/tf-custom-op/internal/framework"
	"github.com/PatWie/tf-custom-op/internal/tensor"
)

// Operator names.
const (
	OpName     = "MatrixAdd"
	GradOpName = "MatrixAddGrad"
)

// Rank is the number of axes [B, M, N, D] both inputs must have.
const Rank = 4

// Attribute names.
const (
	AttrBias = "bias"
	AttrT    = "T"
)

func attrDefs() []framework.AttrDef {
	return []framework.AttrDef{
		{Name: AttrBias, Type: framework.AttrFloat},
		{Name: AttrT, Type: framework.AttrDType, Allowed: tensor.RealNumberTypes()},
	}
}

// OpDef returns the schema of MatrixAdd.
func OpDef() framework.OpDef {
	return framework.OpDef{
		Name: OpName,
		Inputs: []framework.ArgDef{
			{Name: "matrix_a", TypeAttr: AttrT},
			{Name: "matrix_b", TypeAttr: AttrT},
		},
		Outputs: []framework.ArgDef{
			{Name: "output", TypeAttr: AttrT},
		},
		Attrs:   attrDefs(),
		ShapeFn: shapeFn,
		Doc: `Add two matrices and a constant.

This computes A + B + bias for two batches of matrices.

matrix_a: A batch of matrices [B, M, N, D].
matrix_b: A batch of matrices [B, M, N, D].
output: A batch of matrices [B, M, N, D] containing the result.
bias: An additional constant term.`,
	}
}

// GradOpDef returns the schema of MatrixAddGrad.
func GradOpDef() framework.OpDef {
	return framework.OpDef{
		Name: GradOpName,
		Inputs: []framework.ArgDef{
			{Name: "gradients", TypeAttr: AttrT},
			{Name: "matrix_a", TypeAttr: AttrT},
			{Name: "matrix_b", TypeAttr: AttrT},
		},
		Outputs: []framework.ArgDef{
			{Name: "grad_matrix_a", TypeAttr: AttrT},
			{Name: "grad_matrix_b", TypeAttr: AttrT},
		},
		Attrs:   attrDefs(),
		ShapeFn: gradShapeFn,
		Doc:     `Returns gradients of "matrix_a + matrix_b + bias".`,
	}
}

// shapeFn requires two rank-4 inputs of equal shape and sets the output to
// [B, M, N, D] of the merged shape.
func shapeFn(c *framework.InferenceContext) error {
	a, err := c.WithRank(0, Rank)
	if err != nil {
		return err
	}
	b, err := c.WithRank(1, Rank)
	if err != nil {
		return err
	}

	merged, err := c.Merge(a, b)
	if err != nil {
		return err
	}

	B := c.Dim(merged, 0)
	M := c.Dim(merged, 1)
	N := c.Dim(merged, 2)
	D := c.Dim(merged, 3)
	c.SetOutput(0, c.MakeShape(B, M, N, D))

	// bias takes no part in shape inference but must be readable here.
	_, err = c.GetAttrFloat(AttrBias)
	return err
}

// gradShapeFn requires gradients, matrix_a and matrix_b to be rank 4 and
// mutually equal; the gradient outputs take the shapes of the inputs.
func gradShapeFn(c *framework.InferenceContext) error {
	shapes := make([]tensor.Shape, c.NumInputs())
	for i := range shapes {
		s, err := c.WithRank(i, Rank)
		if err != nil {
			return err
		}
		shapes[i] = s
	}

	merged := shapes[0]
	for _, s := range shapes[1:] {
		var err error
		if merged, err = c.Merge(merged, s); err != nil {
			return err
		}
	}

	a, err := c.Merge(shapes[1], merged)
	if err != nil {
		return err
	}
	b, err := c.Merge(shapes[2], merged)
	if err != nil {
		return err
	}
	c.SetOutput(0, a)
	c.SetOutput(1, b)
	return nil
}

// GradNode builds the MatrixAddGrad node for a MatrixAdd node. It keeps the
// device and attributes of the forward node.
func GradNode(fwd framework.NodeDef) framework.NodeDef {
	name := GradOpName
	if fwd.Name != "" {
		name = fwd.Name + "/grad"
	}
	return framework.NodeDef{
		Name:   name,
		Op:     GradOpName,
		Device: fwd.Device,
		Attrs:  fwd.Attrs.Clone(),
	}
}

// Node builds a MatrixAdd node definition.
func Node(name string, device tensor.Device, dtype tensor.DataType, bias float32) framework.NodeDef {
	return framework.NodeDef{
		Name:   name,
		Op:     OpName,
		Device: device,
		Attrs: framework.Attrs{
			AttrBias: framework.Float(bias),
			AttrT:    framework.Type(dtype),
		},
	}
}
