package framework

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrShapeMismatch         = errors.New("shape mismatch")
	ErrTypeNotSupported      = errors.New("type not supported")
	ErrAllocationFailure     = errors.New("allocation failure")
	ErrDeviceLaunch          = errors.New("device launch failure")
	ErrInvalidAttr           = errors.New("invalid attribute")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrOpNotFound            = errors.New("op not registered")
	ErrDuplicateRegistration = errors.New("duplicate registration")
)

// ShapeError describes a shape inference or shape check failure.
// It matches ErrShapeMismatch with errors.Is.
type ShapeError struct {
	Op      string // Operator name
	Input   int    // Input index involved, -1 if not input specific
	Details string // What went wrong
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	if e.Input >= 0 {
		return fmt.Sprintf("%s: %s: input %d: %s", ErrShapeMismatch, e.Op, e.Input, e.Details)
	}
	return fmt.Sprintf("%s: %s: %s", ErrShapeMismatch, e.Op, e.Details)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShapeMismatch
}
