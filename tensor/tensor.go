package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Tensor is a dense CPU array with row-major layout. Data is either
// []float32 or []int32 depending on DType.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

// Float32s returns the underlying float32 storage.
func (t *Tensor) Float32s() ([]float32, error) {
	data, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return data, nil
}

// Int32s returns the underlying int32 storage.
func (t *Tensor) Int32s() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return data, nil
}

// Offset computes the flat index of a multi-dimensional coordinate.
func (t *Tensor) Offset(coords ...int) (int, error) {
	if len(coords) != len(t.Shape) {
		return 0, fmt.Errorf("coordinate rank %d does not match tensor rank %d", len(coords), len(t.Shape))
	}
	offset := 0
	for i, c := range coords {
		if c < 0 || c >= t.Shape[i] {
			return 0, fmt.Errorf("coordinate %d out of range [0, %d) on axis %d", c, t.Shape[i], i)
		}
		offset += c * t.Strides[i]
	}
	return offset, nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() (*Tensor, error) {
	switch data := t.Data.(type) {
	case []float32:
		cp := make([]float32, len(data))
		copy(cp, data)
		return NewTensor(t.Shape, t.DType, cp)
	case []int32:
		cp := make([]int32, len(data))
		copy(cp, data)
		return NewTensor(t.Shape, t.DType, cp)
	default:
		return nil, fmt.Errorf("unsupported tensor storage type %T", t.Data)
	}
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
