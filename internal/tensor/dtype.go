// Package tensor provides the tensor data model shared by the operator
// registry, the kernels and the device launchers.
package tensor

// DType is a constraint for element types that have kernels.
type DType interface {
	~int32 | ~float32 | ~float64
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
// Only Int32, Float32 and Float64 are real number types with kernels;
// the rest are representable so that unsupported requests can be rejected.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
	Bool
	Complex64
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64, Complex64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	case Complex64:
		return "complex64"
	default:
		return "unknown"
	}
}

// ParseDataType maps a name produced by String back to a DataType.
func ParseDataType(name string) (DataType, bool) {
	for dt := Float32; dt <= Complex64; dt++ {
		if dt.String() == name {
			return dt, true
		}
	}
	return 0, false
}

// RealNumberTypes lists the data types the operators accept for T.
func RealNumberTypes() []DataType {
	return []DataType{Int32, Float32, Float64}
}

// DataTypeOf infers the DataType of a generic element type.
func DataTypeOf[T DType]() DataType {
	var zero T
	switch any(zero).(type) {
	case int32:
		return Int32
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		panic("unsupported type")
	}
}
