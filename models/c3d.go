package models

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-activity/tensor"
)

// C3DNet is the 3D-convolutional variant: a volumetric head that pools
// the full spatio-temporal extent of each channel, then classifies
// through a hidden layer with ReLU and dropout.
type C3DNet struct {
	cfg    Config
	w1, b1 *tensor.Tensor // hidden layer [C, hidden]
	w2, b2 *tensor.Tensor // classifier [hidden, numClasses]

	dropoutRate float64
	rng         *rand.Rand
	training    bool

	// Activations saved by Forward for the following Backward
	lastBatch   int
	lastPooled  []float32 // [B, C]
	lastHidden  []float32 // [B, hidden], post-ReLU and dropout
	lastPreAct  []float32 // [B, hidden], pre-ReLU
	lastDropout []float32 // dropout mask, nil in eval mode
}

// NewC3D creates a C3D-style model for the given clip geometry.
func NewC3D(cfg Config) (*C3DNet, error) {
	if cfg.Hidden <= 0 {
		cfg.Hidden = 64
	}

	w1, b1, err := newLinearParams(cfg.Channels, cfg.Hidden)
	if err != nil {
		return nil, err
	}
	w2, b2, err := newLinearParams(cfg.Hidden, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	return &C3DNet{
		cfg:         cfg,
		w1:          w1,
		b1:          b1,
		w2:          w2,
		b2:          b2,
		dropoutRate: 0.5,
		rng:         rand.New(rand.NewSource(globalRng.Int63())),
		training:    true,
	}, nil
}

// Forward computes class logits for a clip batch.
func (m *C3DNet) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkClipInput(input, m.cfg)
	if err != nil {
		return nil, err
	}

	sp := spatialPool(input)
	pooled := temporalPool(sp, batch, m.cfg.Channels, m.cfg.Frames)

	preAct := linearForward(pooled, m.w1, m.b1, batch)

	hidden := make([]float32, len(preAct))
	for i, v := range preAct {
		if v > 0 {
			hidden[i] = v
		}
	}

	var mask []float32
	if m.training && m.dropoutRate > 0 {
		// Inverted dropout: surviving units are scaled so evaluation
		// mode needs no rescaling.
		keep := float32(1.0 - m.dropoutRate)
		mask = make([]float32, len(hidden))
		for i := range hidden {
			if m.rng.Float64() >= m.dropoutRate {
				mask[i] = 1.0 / keep
			}
			hidden[i] *= mask[i]
		}
	}

	logits := linearForward(hidden, m.w2, m.b2, batch)

	m.lastBatch = batch
	m.lastPooled = pooled
	m.lastPreAct = preAct
	m.lastHidden = hidden
	m.lastDropout = mask

	return tensor.NewTensor([]int{batch, m.cfg.NumClasses}, tensor.Float32, logits)
}

// Backward accumulates parameter gradients from the logit gradient of
// the most recent Forward.
func (m *C3DNet) Backward(gradLogits *tensor.Tensor) error {
	if m.lastPooled == nil {
		return fmt.Errorf("Backward called before Forward")
	}

	grad, err := gradLogits.Float32Data()
	if err != nil {
		return fmt.Errorf("logit gradient: %v", err)
	}
	if len(grad) != m.lastBatch*m.cfg.NumClasses {
		return fmt.Errorf("logit gradient size mismatch: expected %d, got %d", m.lastBatch*m.cfg.NumClasses, len(grad))
	}

	gradHidden, err := linearBackward(m.lastHidden, grad, m.w2, m.b2, m.lastBatch)
	if err != nil {
		return fmt.Errorf("classifier backward: %v", err)
	}

	if m.lastDropout != nil {
		for i := range gradHidden {
			gradHidden[i] *= m.lastDropout[i]
		}
	}
	for i, v := range m.lastPreAct {
		if v <= 0 {
			gradHidden[i] = 0
		}
	}

	if _, err := linearBackward(m.lastPooled, gradHidden, m.w1, m.b1, m.lastBatch); err != nil {
		return fmt.Errorf("hidden backward: %v", err)
	}

	return nil
}

// Parameters returns the trainable parameters.
func (m *C3DNet) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.w1, m.b1, m.w2, m.b2}
}

// Train sets the model to training mode (dropout active).
func (m *C3DNet) Train() {
	m.training = true
}

// Eval sets the model to evaluation mode (dropout disabled).
func (m *C3DNet) Eval() {
	m.training = false
}

// IsTraining returns true if in training mode.
func (m *C3DNet) IsTraining() bool {
	return m.training
}

// Replicate returns a shard replica sharing this model's parameter
// tensors but with independent activation state.
func (m *C3DNet) Replicate() Model {
	return &C3DNet{
		cfg:         m.cfg,
		w1:          m.w1,
		b1:          m.b1,
		w2:          m.w2,
		b2:          m.b2,
		dropoutRate: m.dropoutRate,
		rng:         rand.New(rand.NewSource(m.rng.Int63())),
		training:    m.training,
	}
}
