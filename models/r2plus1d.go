package models

import (
	"fmt"

	"github.com/tsawler/go-activity/tensor"
)

// R2Plus1DNet is the factorized spatio-temporal variant: a (2+1)D
// decomposition that reduces each frame spatially first, then mixes the
// temporal axis with a learned full-width temporal filter before
// classification.
type R2Plus1DNet struct {
	cfg      Config
	temporal *tensor.Tensor // learned temporal filter [T]
	w, b     *tensor.Tensor // classifier [C, numClasses]
	training bool

	lastBatch int
	lastSp    []float32 // [B, C, T] spatially pooled
	lastFeat  []float32 // [B, C] temporally mixed features
}

// NewR2Plus1D creates an R(2+1)D-style model for the given clip geometry.
func NewR2Plus1D(cfg Config) (*R2Plus1DNet, error) {
	// The temporal filter starts as a uniform average so the initial
	// behavior matches plain temporal pooling.
	filterData := make([]float32, cfg.Frames)
	for i := range filterData {
		filterData[i] = 1.0 / float32(cfg.Frames)
	}
	temporal, err := tensor.NewTensor([]int{cfg.Frames}, tensor.Float32, filterData)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal filter: %v", err)
	}
	temporal.SetRequiresGrad(true)

	w, b, err := newLinearParams(cfg.Channels, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	return &R2Plus1DNet{
		cfg:      cfg,
		temporal: temporal,
		w:        w,
		b:        b,
		training: true,
	}, nil
}

// Forward computes class logits for a clip batch.
func (m *R2Plus1DNet) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkClipInput(input, m.cfg)
	if err != nil {
		return nil, err
	}

	c := m.cfg.Channels
	t := m.cfg.Frames

	sp := spatialPool(input) // [B, C, T]
	filter := m.temporal.Data.([]float32)

	feat := make([]float32, batch*c)
	for i := 0; i < batch*c; i++ {
		row := sp[i*t : (i+1)*t]
		var sum float32
		for j, v := range row {
			sum += v * filter[j]
		}
		feat[i] = sum
	}

	logits := linearForward(feat, m.w, m.b, batch)

	m.lastBatch = batch
	m.lastSp = sp
	m.lastFeat = feat

	return tensor.NewTensor([]int{batch, m.cfg.NumClasses}, tensor.Float32, logits)
}

// Backward accumulates parameter gradients from the logit gradient of
// the most recent Forward.
func (m *R2Plus1DNet) Backward(gradLogits *tensor.Tensor) error {
	if m.lastSp == nil {
		return fmt.Errorf("Backward called before Forward")
	}

	grad, err := gradLogits.Float32Data()
	if err != nil {
		return fmt.Errorf("logit gradient: %v", err)
	}
	if len(grad) != m.lastBatch*m.cfg.NumClasses {
		return fmt.Errorf("logit gradient size mismatch: expected %d, got %d", m.lastBatch*m.cfg.NumClasses, len(grad))
	}

	gradFeat, err := linearBackward(m.lastFeat, grad, m.w, m.b, m.lastBatch)
	if err != nil {
		return fmt.Errorf("classifier backward: %v", err)
	}

	t := m.cfg.Frames
	gradFilter := make([]float32, t)
	for i, gf := range gradFeat {
		row := m.lastSp[i*t : (i+1)*t]
		for j, v := range row {
			gradFilter[j] += v * gf
		}
	}

	if err := m.temporal.AccumulateGrad(gradFilter); err != nil {
		return fmt.Errorf("temporal filter gradient: %v", err)
	}
	return nil
}

// Parameters returns the trainable parameters.
func (m *R2Plus1DNet) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.temporal, m.w, m.b}
}

// Train sets the model to training mode.
func (m *R2Plus1DNet) Train() {
	m.training = true
}

// Eval sets the model to evaluation mode.
func (m *R2Plus1DNet) Eval() {
	m.training = false
}

// IsTraining returns true if in training mode.
func (m *R2Plus1DNet) IsTraining() bool {
	return m.training
}

// Replicate returns a shard replica sharing this model's parameter
// tensors but with independent activation state.
func (m *R2Plus1DNet) Replicate() Model {
	return &R2Plus1DNet{
		cfg:      m.cfg,
		temporal: m.temporal,
		w:        m.w,
		b:        m.b,
		training: m.training,
	}
}
