package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-activity/tensor"
)

// CrossEntropyLoss implements softmax cross entropy for classification.
// Forward produces a scalar loss; Backward produces the gradient of that
// loss with respect to the logits, which models consume to accumulate
// parameter gradients.
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new cross entropy loss function.
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes the cross entropy loss.
// predicted: [batch_size, num_classes] logits
// target: [batch_size] class indices
func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, numClasses, err := ce.checkShapes(predicted, target)
	if err != nil {
		return nil, err
	}

	probs, err := ce.softmax(predicted)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	probsData := probs.Data.([]float32)
	targetData := target.Data.([]int32)

	var totalLoss float32
	for i := 0; i < batchSize; i++ {
		targetClass := int(targetData[i])
		if targetClass < 0 || targetClass >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", targetClass, numClasses)
		}

		prob := probsData[i*numClasses+targetClass]

		// Small epsilon prevents log(0)
		if prob < 1e-10 {
			prob = 1e-10
		}

		totalLoss += -float32(math.Log(float64(prob)))
	}

	if ce.reduction == "mean" {
		totalLoss /= float32(batchSize)
	}

	return tensor.NewTensor([]int{1}, tensor.Float32, []float32{totalLoss})
}

// Backward computes the gradient of the loss with respect to the logits:
// softmax(logits) minus the one-hot target, scaled by the reduction.
func (ce *CrossEntropyLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, numClasses, err := ce.checkShapes(predicted, target)
	if err != nil {
		return nil, err
	}

	probs, err := ce.softmax(predicted)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}

	grad, err := probs.Clone()
	if err != nil {
		return nil, fmt.Errorf("gradient initialization failed: %v", err)
	}

	gradData := grad.Data.([]float32)
	targetData := target.Data.([]int32)

	for i := 0; i < batchSize; i++ {
		targetClass := int(targetData[i])
		if targetClass < 0 || targetClass >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", targetClass, numClasses)
		}
		gradData[i*numClasses+targetClass] -= 1.0
	}

	if ce.reduction == "mean" {
		scale := 1.0 / float32(batchSize)
		for i := range gradData {
			gradData[i] *= scale
		}
	}

	return grad, nil
}

func (ce *CrossEntropyLoss) checkShapes(predicted, target *tensor.Tensor) (batchSize, numClasses int, err error) {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return 0, 0, fmt.Errorf("predicted must be Float32 and target must be Int32")
	}

	if len(predicted.Shape) != 2 {
		return 0, 0, fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes], got shape %v", predicted.Shape)
	}

	if len(target.Shape) != 1 {
		return 0, 0, fmt.Errorf("target must be 1D tensor [batch_size], got shape %v", target.Shape)
	}

	batchSize = predicted.Shape[0]
	numClasses = predicted.Shape[1]

	if target.Shape[0] != batchSize {
		return 0, 0, fmt.Errorf("batch size mismatch: predicted %d, target %d", batchSize, target.Shape[0])
	}

	return batchSize, numClasses, nil
}

// softmax applies row-wise softmax to the logits.
func (ce *CrossEntropyLoss) softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if logits.DType != tensor.Float32 {
		return nil, fmt.Errorf("softmax only supports Float32 tensors")
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	data := logits.Data.([]float32)
	result := make([]float32, len(data))

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		// Subtract the row max for numerical stability
		maxVal := data[offset]
		for j := 1; j < numClasses; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < numClasses; j++ {
			exp := float32(math.Exp(float64(data[offset+j] - maxVal)))
			result[offset+j] = exp
			sum += exp
		}

		for j := 0; j < numClasses; j++ {
			result[offset+j] /= sum
		}
	}

	return tensor.NewTensor(logits.Shape, logits.DType, result)
}
