package tensor

import (
	"testing"
)

func TestNewTensor(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		dtype   DType
		data    interface{}
		wantErr bool
	}{
		{"valid float32", []int{2, 3}, Float32, make([]float32, 6), false},
		{"valid int32", []int{4}, Int32, make([]int32, 4), false},
		{"length mismatch", []int{2, 3}, Float32, make([]float32, 5), true},
		{"wrong data type", []int{2}, Float32, make([]int32, 2), true},
		{"zero dimension", []int{2, 0}, Float32, []float32{}, true},
		{"negative dimension", []int{-1}, Float32, []float32{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewTensor(tt.shape, tt.dtype, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tensor.NumElems == 0 {
				t.Errorf("expected non-zero element count")
			}
		})
	}
}

func TestTensorStrides(t *testing.T) {
	tensor, err := NewTensor([]int{2, 3, 4}, Float32, make([]float32, 24))
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	expected := []int{12, 4, 1}
	for i, s := range expected {
		if tensor.Strides[i] != s {
			t.Errorf("stride %d: expected %d, got %d", i, s, tensor.Strides[i])
		}
	}
}

func TestZeros(t *testing.T) {
	tensor, err := Zeros([]int{3, 2}, Float32)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	data, err := tensor.Float32Data()
	if err != nil {
		t.Fatalf("failed to access data: %v", err)
	}
	for i, v := range data {
		if v != 0 {
			t.Errorf("element %d: expected 0, got %f", i, v)
		}
	}
}

func TestSetData(t *testing.T) {
	tensor, err := Zeros([]int{2}, Float32)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	if err := tensor.SetData([]float32{1, 2}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	data, _ := tensor.Float32Data()
	if data[0] != 1 || data[1] != 2 {
		t.Errorf("expected [1 2], got %v", data)
	}

	if err := tensor.SetData([]float32{1, 2, 3}); err == nil {
		t.Errorf("expected error for length mismatch")
	}
	if err := tensor.SetData([]int32{1, 2}); err == nil {
		t.Errorf("expected error for type mismatch")
	}
}

func TestClone(t *testing.T) {
	original, err := NewTensor([]int{2}, Float32, []float32{1, 2})
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}

	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	// Mutating the clone must not affect the original
	cloneData, _ := clone.Float32Data()
	cloneData[0] = 99

	origData, _ := original.Float32Data()
	if origData[0] != 1 {
		t.Errorf("clone mutation leaked into original: got %f", origData[0])
	}
}

func TestAccumulateGrad(t *testing.T) {
	param, err := NewTensor([]int{2}, Float32, []float32{0, 0})
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	param.SetRequiresGrad(true)

	if param.Grad() != nil {
		t.Fatalf("expected nil gradient before accumulation")
	}

	if err := param.AccumulateGrad([]float32{1, 2}); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}
	if err := param.AccumulateGrad([]float32{0.5, 0.5}); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}

	grad, err := param.Grad().Float32Data()
	if err != nil {
		t.Fatalf("failed to access gradient: %v", err)
	}
	if grad[0] != 1.5 || grad[1] != 2.5 {
		t.Errorf("expected accumulated gradient [1.5 2.5], got %v", grad)
	}

	if err := param.AccumulateGrad([]float32{1}); err == nil {
		t.Errorf("expected error for gradient length mismatch")
	}
}

func TestZeroGrad(t *testing.T) {
	param, _ := NewTensor([]int{2}, Float32, []float32{0, 0})
	param.SetRequiresGrad(true)

	if err := param.AccumulateGrad([]float32{3, 4}); err != nil {
		t.Fatalf("AccumulateGrad failed: %v", err)
	}

	ZeroGrad([]*Tensor{param})

	grad, _ := param.Grad().Float32Data()
	for i, g := range grad {
		if g != 0 {
			t.Errorf("gradient %d: expected 0 after ZeroGrad, got %f", i, g)
		}
	}
}
