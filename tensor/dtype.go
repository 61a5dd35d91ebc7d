// Package tensor provides the tensor and token data model and the
// streaming codecs used to move them over a Quill stream: a 9-byte-header
// frame codec, a metadata-then-payload sender/receiver pair with
// pre-allocation, and self-delimiting token batches for LLM streaming.
package tensor

import "fmt"

// DType is the element type of a tensor.
type DType uint8

const (
	Float32  DType = 1
	Float16  DType = 2
	BFloat16 DType = 3
	Float64  DType = 4
	Int8     DType = 5
	Int32    DType = 6
	Int64    DType = 7
	Uint8    DType = 8
	Bool     DType = 9
)

// Size delivers the size in bytes of a single element.
func (d DType) Size() int {
	switch d {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Float16, BFloat16:
		return 2
	case Int8, Uint8, Bool:
		return 1
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// IsFloatingPoint reports whether d is a floating-point type.
func (d DType) IsFloatingPoint() bool {
	switch d {
	case Float32, Float16, BFloat16, Float64:
		return true
	}
	return false
}

// IsSigned reports whether d is a signed numeric type.
func (d DType) IsSigned() bool {
	switch d {
	case Int8, Int32, Int64, Float32, Float16, BFloat16, Float64:
		return true
	}
	return false
}

// ParseDType validates a wire dtype byte.
func ParseDType(b byte) (DType, error) {
	d := DType(b)
	if d.Size() == 0 {
		return 0, fmt.Errorf("unknown dtype: %d", b)
	}
	return d, nil
}
