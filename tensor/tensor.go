package tensor

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Tensor is metadata plus an owning byte container holding the flat
// row-major image. The data length always equals the metadata byte size.
type Tensor struct {
	Meta Meta
	Data []byte
}

// New creates a tensor, enforcing that the data length matches the
// metadata byte size.
func New(meta Meta, data []byte) (*Tensor, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(data) != meta.ByteSize() {
		return nil, errors.Errorf("data length %d does not match expected byte size %d",
			len(data), meta.ByteSize())
	}
	return &Tensor{Meta: meta, Data: data}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(meta Meta) (*Tensor, error) {
	return New(meta, make([]byte, meta.ByteSize()))
}

// FromFloat32 creates a float32 tensor from element values.
func FromFloat32(meta Meta, values []float32) (*Tensor, error) {
	if meta.DType != Float32 {
		return nil, errors.Errorf("metadata dtype must be float32, got %s", meta.DType)
	}
	if len(values) != meta.NumElements() {
		return nil, errors.Errorf("value count %d does not match tensor shape", len(values))
	}
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}
	return &Tensor{Meta: meta, Data: data}, nil
}

// FromFloat64 creates a float64 tensor from element values.
func FromFloat64(meta Meta, values []float64) (*Tensor, error) {
	if meta.DType != Float64 {
		return nil, errors.Errorf("metadata dtype must be float64, got %s", meta.DType)
	}
	if len(values) != meta.NumElements() {
		return nil, errors.Errorf("value count %d does not match tensor shape", len(values))
	}
	data := make([]byte, 0, len(values)*8)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return &Tensor{Meta: meta, Data: data}, nil
}

// FromInt32 creates an int32 tensor from element values.
func FromInt32(meta Meta, values []int32) (*Tensor, error) {
	if meta.DType != Int32 {
		return nil, errors.Errorf("metadata dtype must be int32, got %s", meta.DType)
	}
	if len(values) != meta.NumElements() {
		return nil, errors.Errorf("value count %d does not match tensor shape", len(values))
	}
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint32(data, uint32(v))
	}
	return &Tensor{Meta: meta, Data: data}, nil
}

// FromInt64 creates an int64 tensor from element values.
func FromInt64(meta Meta, values []int64) (*Tensor, error) {
	if meta.DType != Int64 {
		return nil, errors.Errorf("metadata dtype must be int64, got %s", meta.DType)
	}
	if len(values) != meta.NumElements() {
		return nil, errors.Errorf("value count %d does not match tensor shape", len(values))
	}
	data := make([]byte, 0, len(values)*8)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, uint64(v))
	}
	return &Tensor{Meta: meta, Data: data}, nil
}

// NumElements delivers the total element count.
func (t *Tensor) NumElements() int { return t.Meta.NumElements() }

// ByteSize delivers the data size in bytes.
func (t *Tensor) ByteSize() int { return len(t.Data) }

// Shape delivers the tensor shape.
func (t *Tensor) Shape() []int { return t.Meta.Shape }

// DType delivers the element type.
func (t *Tensor) DType() DType { return t.Meta.DType }

// Float32s decodes the data as float32 elements.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.Meta.DType != Float32 {
		return nil, errors.Errorf("tensor dtype must be float32, got %s", t.Meta.DType)
	}
	out := make([]float32, t.NumElements())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}

// Float64s decodes the data as float64 elements.
func (t *Tensor) Float64s() ([]float64, error) {
	if t.Meta.DType != Float64 {
		return nil, errors.Errorf("tensor dtype must be float64, got %s", t.Meta.DType)
	}
	out := make([]float64, t.NumElements())
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(t.Data[i*8:]))
	}
	return out, nil
}

// Int32s decodes the data as int32 elements.
func (t *Tensor) Int32s() ([]int32, error) {
	if t.Meta.DType != Int32 {
		return nil, errors.Errorf("tensor dtype must be int32, got %s", t.Meta.DType)
	}
	out := make([]int32, t.NumElements())
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(t.Data[i*4:]))
	}
	return out, nil
}

// Int64s decodes the data as int64 elements.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.Meta.DType != Int64 {
		return nil, errors.Errorf("tensor dtype must be int64, got %s", t.Meta.DType)
	}
	out := make([]int64, t.NumElements())
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.Data[i*8:]))
	}
	return out, nil
}

// Equal reports whether two tensors match in metadata byte size, shape,
// dtype, and byte-for-byte payload.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || t.Meta.DType != other.Meta.DType || len(t.Meta.Shape) != len(other.Meta.Shape) {
		return false
	}
	for i, dim := range t.Meta.Shape {
		if other.Meta.Shape[i] != dim {
			return false
		}
	}
	if len(t.Data) != len(other.Data) {
		return false
	}
	for i, b := range t.Data {
		if other.Data[i] != b {
			return false
		}
	}
	return true
}
