// Package tensor provides the core tensor types and kernels for the Retina toolkit.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. Detection inference works on float32 values and
// int64 indices; Bool backs comparison masks.
const (
	Float32 DataType = iota
	Int64
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Int64:
		return 8
	case Bool:
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
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}
