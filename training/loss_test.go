package training

import (
	"math"
	"strings"
	"testing"

	"github.com/tsawler/go-activity/tensor"
)

func TestCrossEntropyLossForward(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	// softmax([1, 0]) = [e/(e+1), 1/(e+1)]; with the true class scored
	// highest in both rows the per-example loss is -ln(e/(e+1)).
	logits := mustLogits(t, []int{2, 2}, []float32{1, 0, 0, 1})
	labels := mustLabels(t, []int32{0, 1})

	loss, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	got := float64(loss.Data.([]float32)[0])
	want := -math.Log(math.E / (math.E + 1))
	if math.Abs(got-want) > 1e-4 {
		t.Errorf("expected loss %f, got %f", want, got)
	}
}

func TestCrossEntropyLossUniformLogits(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	// Uniform logits over K classes give loss ln(K) regardless of labels.
	numClasses := 5
	logits := mustLogits(t, []int{3, numClasses}, make([]float32, 3*numClasses))
	labels := mustLabels(t, []int32{0, 2, 4})

	loss, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	got := float64(loss.Data.([]float32)[0])
	want := math.Log(float64(numClasses))
	if math.Abs(got-want) > 1e-4 {
		t.Errorf("expected loss %f, got %f", want, got)
	}
}

func TestCrossEntropyLossSumReduction(t *testing.T) {
	meanLoss := NewCrossEntropyLoss("mean")
	sumLoss := NewCrossEntropyLoss("sum")

	logits := mustLogits(t, []int{4, 3}, []float32{
		1, 2, 0,
		0, 1, 3,
		2, 2, 2,
		5, 0, 1,
	})
	labels := mustLabels(t, []int32{1, 2, 0, 0})

	mean, err := meanLoss.Forward(logits, labels)
	if err != nil {
		t.Fatalf("mean Forward failed: %v", err)
	}
	sum, err := sumLoss.Forward(logits, labels)
	if err != nil {
		t.Fatalf("sum Forward failed: %v", err)
	}

	m := float64(mean.Data.([]float32)[0])
	s := float64(sum.Data.([]float32)[0])
	if math.Abs(s-4*m) > 1e-4 {
		t.Errorf("sum reduction %f is not 4x mean reduction %f", s, m)
	}
}

func TestCrossEntropyLossShapeErrors(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	logits := mustLogits(t, []int{2, 3}, make([]float32, 6))

	_, err := ce.Forward(logits, mustLabels(t, []int32{0, 1, 2}))
	if err == nil {
		t.Fatalf("expected error for batch size mismatch")
	}
	if !strings.Contains(err.Error(), "batch size mismatch") {
		t.Errorf("unexpected error message: %v", err)
	}

	badLabels, _ := tensor.NewTensor([]int{2, 1}, tensor.Int32, []int32{0, 1})
	if _, err := ce.Forward(logits, badLabels); err == nil {
		t.Errorf("expected error for 2D target")
	}

	if _, err := ce.Forward(logits, mustLabels(t, []int32{0, 9})); err == nil {
		t.Errorf("expected error for out-of-range target class")
	}
}

func TestCrossEntropyLossBackward(t *testing.T) {
	ce := NewCrossEntropyLoss("mean")

	logits := mustLogits(t, []int{2, 3}, []float32{
		2, 1, 0,
		0, 3, 1,
	})
	labels := mustLabels(t, []int32{0, 1})

	grad, err := ce.Backward(logits, labels)
	if err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if grad.Shape[0] != 2 || grad.Shape[1] != 3 {
		t.Fatalf("expected gradient shape [2 3], got %v", grad.Shape)
	}

	gradData := grad.Data.([]float32)

	// Each gradient row is softmax - onehot scaled by 1/batch, so every
	// row sums to zero and the target entry is negative.
	for i := 0; i < 2; i++ {
		var rowSum float64
		for j := 0; j < 3; j++ {
			rowSum += float64(gradData[i*3+j])
		}
		if math.Abs(rowSum) > 1e-6 {
			t.Errorf("gradient row %d sums to %f, expected 0", i, rowSum)
		}
	}
	if gradData[0] >= 0 {
		t.Errorf("target entry gradient should be negative, got %f", gradData[0])
	}
	if gradData[3+1] >= 0 {
		t.Errorf("target entry gradient should be negative, got %f", gradData[3+1])
	}
}
