package models

import (
	"fmt"
	"math"

	"github.com/tsawler/go-activity/tensor"
)

// STTSNet is the spatio-temporal transformer variant: each frame is
// reduced to a token, a learned query attends over the token sequence,
// and the attention-weighted summary is classified. The attention-
// augmented sub-variant (stts-a) uses scaled dot-product scores.
type STTSNet struct {
	cfg       Config
	augmented bool           // stts-a: scale scores by 1/sqrt(C)
	query     *tensor.Tensor // attention query [C]
	w, b      *tensor.Tensor // classifier [C, numClasses]
	training  bool

	lastBatch  int
	lastTokens []float32 // [B, C, T] spatially pooled frame tokens
	lastAttn   []float32 // [B, T] attention weights
	lastFeat   []float32 // [B, C] attended features
}

// NewSTTS creates an STTS-style model for the given clip geometry.
func NewSTTS(cfg Config, augmented bool) (*STTSNet, error) {
	bound := math.Sqrt(3.0 / float64(cfg.Channels))
	queryData := make([]float32, cfg.Channels)
	for i := range queryData {
		queryData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	query, err := tensor.NewTensor([]int{cfg.Channels}, tensor.Float32, queryData)
	if err != nil {
		return nil, fmt.Errorf("failed to create query tensor: %v", err)
	}
	query.SetRequiresGrad(true)

	w, b, err := newLinearParams(cfg.Channels, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	return &STTSNet{
		cfg:       cfg,
		augmented: augmented,
		query:     query,
		w:         w,
		b:         b,
		training:  true,
	}, nil
}

func (m *STTSNet) scoreScale() float32 {
	if m.augmented {
		return float32(1.0 / math.Sqrt(float64(m.cfg.Channels)))
	}
	return 1.0
}

// Forward computes class logits for a clip batch.
func (m *STTSNet) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	batch, err := checkClipInput(input, m.cfg)
	if err != nil {
		return nil, err
	}

	c := m.cfg.Channels
	t := m.cfg.Frames
	scale := m.scoreScale()

	tokens := spatialPool(input) // [B, C, T]
	query := m.query.Data.([]float32)

	attn := make([]float32, batch*t)
	feat := make([]float32, batch*c)

	for i := 0; i < batch; i++ {
		base := i * c * t

		// Scores: query dotted with each frame token
		scores := attn[i*t : (i+1)*t]
		for j := 0; j < t; j++ {
			var s float32
			for k := 0; k < c; k++ {
				s += query[k] * tokens[base+k*t+j]
			}
			scores[j] = s * scale
		}

		// Softmax over the temporal axis
		maxVal := scores[0]
		for _, s := range scores[1:] {
			if s > maxVal {
				maxVal = s
			}
		}
		var sum float32
		for j, s := range scores {
			e := float32(math.Exp(float64(s - maxVal)))
			scores[j] = e
			sum += e
		}
		for j := range scores {
			scores[j] /= sum
		}

		// Attention-weighted token summary
		fRow := feat[i*c : (i+1)*c]
		for k := 0; k < c; k++ {
			var acc float32
			tokRow := tokens[base+k*t : base+(k+1)*t]
			for j, a := range scores {
				acc += a * tokRow[j]
			}
			fRow[k] = acc
		}
	}

	logits := linearForward(feat, m.w, m.b, batch)

	m.lastBatch = batch
	m.lastTokens = tokens
	m.lastAttn = attn
	m.lastFeat = feat

	return tensor.NewTensor([]int{batch, m.cfg.NumClasses}, tensor.Float32, logits)
}

// Backward accumulates parameter gradients from the logit gradient of
// the most recent Forward.
func (m *STTSNet) Backward(gradLogits *tensor.Tensor) error {
	if m.lastTokens == nil {
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

	c := m.cfg.Channels
	t := m.cfg.Frames
	scale := m.scoreScale()
	gradQuery := make([]float32, c)

	for i := 0; i < m.lastBatch; i++ {
		base := i * c * t
		attn := m.lastAttn[i*t : (i+1)*t]
		gf := gradFeat[i*c : (i+1)*c]

		// dL/da[j] = sum_k gradFeat[k] * token[k][j]
		gradAttn := make([]float32, t)
		for k := 0; k < c; k++ {
			tokRow := m.lastTokens[base+k*t : base+(k+1)*t]
			for j := range gradAttn {
				gradAttn[j] += gf[k] * tokRow[j]
			}
		}

		// Softmax Jacobian: dL/ds[j] = a[j] * (dL/da[j] - sum_u a[u] dL/da[u])
		var dot float32
		for j, a := range attn {
			dot += a * gradAttn[j]
		}
		gradScores := make([]float32, t)
		for j, a := range attn {
			gradScores[j] = a * (gradAttn[j] - dot)
		}

		// dL/dq[k] = scale * sum_j dL/ds[j] * token[k][j]
		for k := 0; k < c; k++ {
			tokRow := m.lastTokens[base+k*t : base+(k+1)*t]
			var acc float32
			for j, gs := range gradScores {
				acc += gs * tokRow[j]
			}
			gradQuery[k] += acc * scale
		}
	}

	if err := m.query.AccumulateGrad(gradQuery); err != nil {
		return fmt.Errorf("query gradient: %v", err)
	}
	return nil
}

// Parameters returns the trainable parameters.
func (m *STTSNet) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.query, m.w, m.b}
}

// Train sets the model to training mode.
func (m *STTSNet) Train() {
	m.training = true
}

// Eval sets the model to evaluation mode.
func (m *STTSNet) Eval() {
	m.training = false
}

// IsTraining returns true if in training mode.
func (m *STTSNet) IsTraining() bool {
	return m.training
}

// Replicate returns a shard replica sharing this model's parameter
// tensors but with independent activation state.
func (m *STTSNet) Replicate() Model {
	return &STTSNet{
		cfg:       m.cfg,
		augmented: m.augmented,
		query:     m.query,
		w:         m.w,
		b:         m.b,
		training:  m.training,
	}
}
