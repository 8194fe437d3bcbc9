// Package relay - A small typed dataflow IR for tensor computations.
//
// Expressions form a directed acyclic graph: a node may be referenced by
// several consumers and that sharing is meaningful (a shared subexpression
// is computed once). Every expression carries a fully resolved tensor type
// before any transformation pass runs.
package relay

// DType identifies the element type of a tensor.
type DType string

// DType constants are the element types the IR understands.
const (
	DTypeBool    DType = "bool"
	DTypeInt32   DType = "int32"
	DTypeInt64   DType = "int64"
	DTypeFloat16 DType = "float16"
	DTypeFloat32 DType = "float32"
	DTypeFloat64 DType = "float64"
)

// Resolved reports whether the dtype has been assigned at all.
func (d DType) Resolved() bool {
	return d != ""
}

// IsFloat reports whether the dtype is a floating-point type.
func (d DType) IsFloat() bool {
	switch d {
	case DTypeFloat16, DTypeFloat32, DTypeFloat64:
		return true
	}
	return false
}

// IsNumeric reports whether the dtype supports arithmetic.
func (d DType) IsNumeric() bool {
	switch d {
	case DTypeInt32, DTypeInt64, DTypeFloat16, DTypeFloat32, DTypeFloat64:
		return true
	}
	return false
}

// Bits returns the storage width of the dtype in bits.
func (d DType) Bits() int {
	switch d {
	case DTypeBool:
		return 8
	case DTypeFloat16:
		return 16
	case DTypeInt32, DTypeFloat32:
		return 32
	case DTypeInt64, DTypeFloat64:
		return 64
	}
	return 0
}

// Wider returns the wider of two dtypes, measured by storage width.
// Ties go to the receiver.
func (d DType) Wider(other DType) DType {
	if other.Bits() > d.Bits() {
		return other
	}
	return d
}
