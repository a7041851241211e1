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

// Tensor is a CPU-resident n-dimensional array. Data is stored flat in
// row-major order; Strides are element (not byte) strides.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the gradient tensor accumulated for this tensor, or nil if
// no gradient has been accumulated since the last ZeroGrad.
func (t *Tensor) Grad() *Tensor {
	return t.grad
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

func numElements(shape []int) int {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return n
}

// NewTensor creates a tensor from existing data. The data slice type must
// match the dtype and its length must match the shape.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid shape %v: dimensions must be positive", shape)
		}
	}

	n := numElements(shape)

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("dtype %s requires []float32 data, got %T", dtype, data)
		}
		if len(d) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, n)
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("dtype %s requires []int32 data, got %T", dtype, data)
		}
		if len(d) != n {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, n)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor of the given shape and dtype.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	n := numElements(shape)

	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, n))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, n))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Float32Data returns the underlying float32 slice.
func (t *Tensor) Float32Data() ([]float32, error) {
	d, ok := t.Data.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Float32", t.DType)
	}
	return d, nil
}

// Int32Data returns the underlying int32 slice.
func (t *Tensor) Int32Data() ([]int32, error) {
	d, ok := t.Data.([]int32)
	if !ok {
		return nil, fmt.Errorf("tensor is %s, not Int32", t.DType)
	}
	return d, nil
}

// SetData replaces the tensor's data in place. The new data must have the
// same type and length as the existing data.
func (t *Tensor) SetData(data interface{}) error {
	switch existing := t.Data.(type) {
	case []float32:
		d, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 data, got %T", data)
		}
		if len(d) != len(existing) {
			return fmt.Errorf("data length mismatch: expected %d, got %d", len(existing), len(d))
		}
		copy(existing, d)
	case []int32:
		d, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 data, got %T", data)
		}
		if len(d) != len(existing) {
			return fmt.Errorf("data length mismatch: expected %d, got %d", len(existing), len(d))
		}
		copy(existing, d)
	default:
		return fmt.Errorf("unsupported tensor data type: %T", t.Data)
	}
	return nil
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	switch d := t.Data.(type) {
	case []float32:
		dataCopy := make([]float32, len(d))
		copy(dataCopy, d)
		return NewTensor(t.Shape, t.DType, dataCopy)
	case []int32:
		dataCopy := make([]int32, len(d))
		copy(dataCopy, d)
		return NewTensor(t.Shape, t.DType, dataCopy)
	default:
		return nil, fmt.Errorf("unsupported tensor data type: %T", t.Data)
	}
}

// AccumulateGrad adds grad into the tensor's gradient slot, allocating it
// on first use. Shapes must match the parameter shape.
func (t *Tensor) AccumulateGrad(grad []float32) error {
	if t.DType != Float32 {
		return fmt.Errorf("gradients only supported for Float32 tensors, got %s", t.DType)
	}
	if len(grad) != t.NumElems {
		return fmt.Errorf("gradient length mismatch: expected %d, got %d", t.NumElems, len(grad))
	}

	if t.grad == nil {
		g, err := Zeros(t.Shape, Float32)
		if err != nil {
			return err
		}
		t.grad = g
	}

	gradData := t.grad.Data.([]float32)
	for i, g := range grad {
		gradData[i] += g
	}
	return nil
}

// ZeroGrad clears the accumulated gradients of all given tensors.
func ZeroGrad(params []*Tensor) {
	for _, p := range params {
		if p.grad == nil {
			continue
		}
		gradData := p.grad.Data.([]float32)
		for i := range gradData {
			gradData[i] = 0
		}
	}
}
