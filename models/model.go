// Package models implements the supported activity-recognition network
// variants. Every model consumes video clip batches of shape
// [batch, channels, frames, height, width] and produces class logits of
// shape [batch, numClasses]. Models carry their own parameter gradients:
// Forward saves the activations Backward needs, and Backward accumulates
// gradients into the parameter tensors for the optimizer to consume.
package models

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-activity/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Variant identifies one of the supported model architectures. The tag
// set matches the original training tool's --model_type choices.
type Variant int

const (
	C3D Variant = iota
	R2Plus1D
	STTS
	STTSA // STTS with attention-augmented (scaled dot-product) pooling
)

func (v Variant) String() string {
	switch v {
	case C3D:
		return "c3d"
	case R2Plus1D:
		return "r2plus1d"
	case STTS:
		return "stts"
	case STTSA:
		return "stts-a"
	default:
		return fmt.Sprintf("Unknown(%d)", int(v))
	}
}

// ParseVariant resolves a model tag into a Variant. Resolution happens
// once at startup; afterwards the engine only sees the Model interface.
func ParseVariant(tag string) (Variant, error) {
	switch tag {
	case "c3d":
		return C3D, nil
	case "r2plus1d":
		return R2Plus1D, nil
	case "stts":
		return STTS, nil
	case "stts-a":
		return STTSA, nil
	default:
		return 0, fmt.Errorf("unknown model type %q (expected c3d, r2plus1d, stts or stts-a)", tag)
	}
}

// Config describes the clip geometry and head sizes a model is built for.
type Config struct {
	NumClasses int
	Channels   int // C dimension of input clips
	Frames     int // T dimension of input clips
	Hidden     int // hidden width of the C3D head; defaults to 64
}

func (c Config) validate() error {
	if c.NumClasses < 2 {
		return fmt.Errorf("num classes must be at least 2, got %d", c.NumClasses)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.Frames <= 0 {
		return fmt.Errorf("frames must be positive, got %d", c.Frames)
	}
	return nil
}

// Model is the capability surface the training engine depends on.
type Model interface {
	// Forward runs the network on a clip batch and returns logits.
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)

	// Backward consumes the gradient of the loss with respect to the
	// logits of the most recent Forward and accumulates parameter
	// gradients. It must only be called during training.
	Backward(gradLogits *tensor.Tensor) error

	// Parameters returns the trainable parameter tensors.
	Parameters() []*tensor.Tensor

	Train()           // Sets the model to training mode
	Eval()            // Sets the model to evaluation mode
	IsTraining() bool // Returns true if in training mode
}

// Replicable is implemented by models that can produce shard replicas
// sharing their parameter tensors, for data-parallel execution.
type Replicable interface {
	Replicate() Model
}

// New builds the model for the given variant. The variant tag is the
// only place architecture selection happens.
func New(v Variant, cfg Config) (Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	switch v {
	case C3D:
		return NewC3D(cfg)
	case R2Plus1D:
		return NewR2Plus1D(cfg)
	case STTS, STTSA:
		return NewSTTS(cfg, v == STTSA)
	default:
		return nil, fmt.Errorf("unknown model variant: %d", int(v))
	}
}

// CountParameters returns the total number of trainable scalar parameters.
func CountParameters(m Model) int {
	total := 0
	for _, p := range m.Parameters() {
		if p.RequiresGrad() {
			total += p.NumElems
		}
	}
	return total
}

// newLinearParams creates a weight [in, out] with Xavier uniform
// initialization and a zero bias [out], both marked trainable.
func newLinearParams(in, out int) (weight, bias *tensor.Tensor, err error) {
	bound := math.Sqrt(6.0 / float64(in+out))

	weightData := make([]float32, in*out)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err = tensor.NewTensor([]int{in, out}, tensor.Float32, weightData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	bias, err = tensor.NewTensor([]int{out}, tensor.Float32, make([]float32, out))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create bias tensor: %v", err)
	}
	bias.SetRequiresGrad(true)

	return weight, bias, nil
}

// checkClipInput validates a clip batch against the model's geometry and
// returns the batch size.
func checkClipInput(input *tensor.Tensor, cfg Config) (int, error) {
	if input.DType != tensor.Float32 {
		return 0, fmt.Errorf("clip input must be Float32, got %s", input.DType)
	}
	if len(input.Shape) != 5 {
		return 0, fmt.Errorf("clip input must be 5D [batch, channels, frames, height, width], got shape %v", input.Shape)
	}
	if input.Shape[1] != cfg.Channels {
		return 0, fmt.Errorf("channel mismatch: model built for %d, input has %d", cfg.Channels, input.Shape[1])
	}
	if input.Shape[2] != cfg.Frames {
		return 0, fmt.Errorf("frame mismatch: model built for %d, input has %d", cfg.Frames, input.Shape[2])
	}
	return input.Shape[0], nil
}

// spatialPool averages each frame's spatial extent, reducing
// [B, C, T, H, W] to a flat [B*C*T] buffer laid out as [B][C][T].
func spatialPool(input *tensor.Tensor) []float32 {
	b := input.Shape[0]
	c := input.Shape[1]
	t := input.Shape[2]
	hw := input.Shape[3] * input.Shape[4]

	data := input.Data.([]float32)
	pooled := make([]float32, b*c*t)

	for i := 0; i < b*c*t; i++ {
		offset := i * hw
		var sum float32
		for j := 0; j < hw; j++ {
			sum += data[offset+j]
		}
		pooled[i] = sum / float32(hw)
	}
	return pooled
}

// temporalPool averages a [B][C][T] buffer over T, producing [B][C].
func temporalPool(pooled []float32, b, c, t int) []float32 {
	out := make([]float32, b*c)
	for i := 0; i < b*c; i++ {
		offset := i * t
		var sum float32
		for j := 0; j < t; j++ {
			sum += pooled[offset+j]
		}
		out[i] = sum / float32(t)
	}
	return out
}

// linearForward computes x @ W + bias for x [batch, in], W [in, out].
func linearForward(x []float32, weight *tensor.Tensor, bias *tensor.Tensor, batch int) []float32 {
	in := weight.Shape[0]
	out := weight.Shape[1]
	w := weight.Data.([]float32)
	bs := bias.Data.([]float32)

	y := make([]float32, batch*out)
	for i := 0; i < batch; i++ {
		xRow := x[i*in : (i+1)*in]
		yRow := y[i*out : (i+1)*out]
		copy(yRow, bs)
		for k, xv := range xRow {
			if xv == 0 {
				continue
			}
			wRow := w[k*out : (k+1)*out]
			for j, wv := range wRow {
				yRow[j] += xv * wv
			}
		}
	}
	return y
}

// linearBackward accumulates weight/bias gradients for y = x @ W + bias
// and returns the gradient with respect to x.
func linearBackward(x, gradOut []float32, weight, bias *tensor.Tensor, batch int) (gradX []float32, err error) {
	in := weight.Shape[0]
	out := weight.Shape[1]
	w := weight.Data.([]float32)

	gradW := make([]float32, in*out)
	gradB := make([]float32, out)
	gradX = make([]float32, batch*in)

	for i := 0; i < batch; i++ {
		xRow := x[i*in : (i+1)*in]
		gRow := gradOut[i*out : (i+1)*out]
		gxRow := gradX[i*in : (i+1)*in]

		for j, gv := range gRow {
			gradB[j] += gv
		}
		for k, xv := range xRow {
			wRow := w[k*out : (k+1)*out]
			gwRow := gradW[k*out : (k+1)*out]
			var acc float32
			for j, gv := range gRow {
				gwRow[j] += xv * gv
				acc += gv * wRow[j]
			}
			gxRow[k] = acc
		}
	}

	if err := weight.AccumulateGrad(gradW); err != nil {
		return nil, fmt.Errorf("weight gradient: %v", err)
	}
	if err := bias.AccumulateGrad(gradB); err != nil {
		return nil, fmt.Errorf("bias gradient: %v", err)
	}
	return gradX, nil
}
