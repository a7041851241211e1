package models

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-activity/tensor"
)

// DataParallel fans a single logical forward/backward step out across
// shard replicas that share the base model's parameter tensors. The
// batch is split along its leading dimension, shards run their forward
// passes concurrently, and the logits are gathered back in order, so
// callers see one model. Backward replays the same split sequentially;
// replicas accumulate into the shared gradients.
type DataParallel struct {
	replicas []Model
	training bool

	lastBounds []int // shard boundaries of the most recent Forward
}

// NewDataParallel wraps a model for execution across the given number of
// shards. The model must be Replicable. A single shard is valid and
// degenerates to plain execution.
func NewDataParallel(m Model, shards int) (*DataParallel, error) {
	if shards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shards)
	}

	replicas := make([]Model, shards)
	replicas[0] = m

	if shards > 1 {
		r, ok := m.(Replicable)
		if !ok {
			return nil, fmt.Errorf("model %T does not support replication", m)
		}
		for i := 1; i < shards; i++ {
			replicas[i] = r.Replicate()
		}
	}

	return &DataParallel{
		replicas: replicas,
		training: m.IsTraining(),
	}, nil
}

// shardBounds splits batch rows into at most len(replicas) contiguous
// ranges. Returns len+1 boundary offsets.
func (dp *DataParallel) shardBounds(batch int) []int {
	shards := len(dp.replicas)
	if shards > batch {
		shards = batch
	}

	bounds := make([]int, shards+1)
	base := batch / shards
	rem := batch % shards
	for i := 0; i < shards; i++ {
		size := base
		if i < rem {
			size++
		}
		bounds[i+1] = bounds[i] + size
	}
	return bounds
}

// sliceRows returns a tensor viewing rows [lo, hi) of t along its
// leading dimension. The view shares the underlying data.
func sliceRows(t *tensor.Tensor, lo, hi int) (*tensor.Tensor, error) {
	rowSize := t.NumElems / t.Shape[0]
	shape := append([]int{hi - lo}, t.Shape[1:]...)

	switch data := t.Data.(type) {
	case []float32:
		return tensor.NewTensor(shape, t.DType, data[lo*rowSize:hi*rowSize])
	case []int32:
		return tensor.NewTensor(shape, t.DType, data[lo*rowSize:hi*rowSize])
	default:
		return nil, fmt.Errorf("unsupported tensor data type: %T", t.Data)
	}
}

// Forward splits the batch across shard replicas, runs them
// concurrently, and gathers the logits in input order.
func (dp *DataParallel) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) == 0 || input.Shape[0] == 0 {
		return nil, fmt.Errorf("input batch is empty")
	}

	batch := input.Shape[0]
	bounds := dp.shardBounds(batch)
	shards := len(bounds) - 1

	outputs := make([]*tensor.Tensor, shards)
	errs := make([]error, shards)

	var wg sync.WaitGroup
	for s := 0; s < shards; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			shard, err := sliceRows(input, bounds[s], bounds[s+1])
			if err != nil {
				errs[s] = err
				return
			}
			outputs[s], errs[s] = dp.replicas[s].Forward(shard)
		}(s)
	}
	wg.Wait()

	for s, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("shard %d forward failed: %v", s, err)
		}
	}

	numClasses := outputs[0].Shape[1]
	gathered := make([]float32, batch*numClasses)
	for s := 0; s < shards; s++ {
		shardData := outputs[s].Data.([]float32)
		copy(gathered[bounds[s]*numClasses:bounds[s+1]*numClasses], shardData)
	}

	dp.lastBounds = bounds

	return tensor.NewTensor([]int{batch, numClasses}, tensor.Float32, gathered)
}

// Backward replays the forward split over the logit gradient. Shards run
// sequentially because they accumulate into shared parameter gradients.
func (dp *DataParallel) Backward(gradLogits *tensor.Tensor) error {
	if dp.lastBounds == nil {
		return fmt.Errorf("Backward called before Forward")
	}

	bounds := dp.lastBounds
	if gradLogits.Shape[0] != bounds[len(bounds)-1] {
		return fmt.Errorf("gradient batch %d does not match forward batch %d", gradLogits.Shape[0], bounds[len(bounds)-1])
	}

	for s := 0; s < len(bounds)-1; s++ {
		shardGrad, err := sliceRows(gradLogits, bounds[s], bounds[s+1])
		if err != nil {
			return err
		}
		if err := dp.replicas[s].Backward(shardGrad); err != nil {
			return fmt.Errorf("shard %d backward failed: %v", s, err)
		}
	}
	return nil
}

// Parameters returns the shared trainable parameters.
func (dp *DataParallel) Parameters() []*tensor.Tensor {
	return dp.replicas[0].Parameters()
}

// Train sets all replicas to training mode.
func (dp *DataParallel) Train() {
	dp.training = true
	for _, r := range dp.replicas {
		r.Train()
	}
}

// Eval sets all replicas to evaluation mode.
func (dp *DataParallel) Eval() {
	dp.training = false
	for _, r := range dp.replicas {
		r.Eval()
	}
}

// IsTraining returns true if in training mode.
func (dp *DataParallel) IsTraining() bool {
	return dp.training
}
