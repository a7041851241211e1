package training

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-activity/tensor"
)

// Meter is the common surface of the running metric accumulators used by
// the engine. Meters hold purely in-memory counters and perform no I/O.
// They must be Reset at every phase boundary; values never carry across
// phases or epochs.
type Meter interface {
	Reset()
}

// AverageMeter maintains the running arithmetic mean of scalar values
// added since the last Reset. Value returns 0 when nothing has been added.
type AverageMeter struct {
	sum   float64
	count int
}

// NewAverageMeter creates an empty average meter.
func NewAverageMeter() *AverageMeter {
	return &AverageMeter{}
}

// Reset clears the accumulated sum and count.
func (m *AverageMeter) Reset() {
	m.sum = 0
	m.count = 0
}

// Add accumulates a single scalar observation.
func (m *AverageMeter) Add(value float64) {
	m.sum += value
	m.count++
}

// Value returns the mean of all values added since the last Reset.
// An empty meter reports 0.
func (m *AverageMeter) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns the number of values added since the last Reset.
func (m *AverageMeter) Count() int {
	return m.count
}

// TopKAccuracyMeter accumulates top-k classification accuracy as a
// percentage in [0, 100] across all examples seen since the last Reset.
// Value is indexed by the order of the topk list passed at construction.
type TopKAccuracyMeter struct {
	topk    []int
	correct []int
	total   int
}

// NewTopKAccuracyMeter creates an accuracy meter for the given k values,
// e.g. []int{1, 5} for top-1 and top-5 accuracy.
func NewTopKAccuracyMeter(topk []int) (*TopKAccuracyMeter, error) {
	if len(topk) == 0 {
		return nil, fmt.Errorf("topk list must not be empty")
	}
	for _, k := range topk {
		if k <= 0 {
			return nil, fmt.Errorf("invalid k=%d: k values must be positive", k)
		}
	}

	ks := make([]int, len(topk))
	copy(ks, topk)

	return &TopKAccuracyMeter{
		topk:    ks,
		correct: make([]int, len(ks)),
	}, nil
}

// Reset clears all per-k correct counts and the example total.
func (m *TopKAccuracyMeter) Reset() {
	for i := range m.correct {
		m.correct[i] = 0
	}
	m.total = 0
}

// Add scores a batch of logits [batch, numClasses] against integer labels
// [batch]. For each requested k, an example counts as correct when its
// true label appears among the k highest-scored classes.
func (m *TopKAccuracyMeter) Add(logits *tensor.Tensor, labels *tensor.Tensor) error {
	scores, err := logits.Float32Data()
	if err != nil {
		return fmt.Errorf("logits: %v", err)
	}
	targets, err := labels.Int32Data()
	if err != nil {
		return fmt.Errorf("labels: %v", err)
	}

	if len(logits.Shape) != 2 {
		return fmt.Errorf("logits must be 2D [batch, classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	if len(targets) != batchSize {
		return fmt.Errorf("batch size mismatch: %d logits rows, %d labels", batchSize, len(targets))
	}

	for i := 0; i < batchSize; i++ {
		target := int(targets[i])
		if target < 0 || target >= numClasses {
			return fmt.Errorf("label %d out of range [0, %d)", target, numClasses)
		}

		row := scores[i*numClasses : (i+1)*numClasses]

		// rank = number of classes scored strictly higher than the true
		// class; the true class is within the top k iff rank < k.
		rank := 0
		targetScore := row[target]
		for j, s := range row {
			if j != target && s > targetScore {
				rank++
			}
		}

		for ki, k := range m.topk {
			if rank < k {
				m.correct[ki]++
			}
		}
	}

	m.total += batchSize
	return nil
}

// Value returns the accuracy percentages in the order of the topk list.
// An empty meter reports 0 for every k.
func (m *TopKAccuracyMeter) Value() []float64 {
	values := make([]float64, len(m.topk))
	if m.total == 0 {
		return values
	}
	for i, c := range m.correct {
		values[i] = 100 * float64(c) / float64(m.total)
	}
	return values
}

// Total returns the number of examples scored since the last Reset.
func (m *TopKAccuracyMeter) Total() int {
	return m.total
}

// ConfusionMeter maintains a numClasses x numClasses count matrix of
// (true class, predicted class) pairs, where the predicted class is the
// argmax of the logits row.
type ConfusionMeter struct {
	numClasses int
	normalized bool
	matrix     [][]int
	total      int
}

// NewConfusionMeter creates a confusion meter. When normalized is true,
// Value row-normalizes the matrix so each true-class row sums to 1.
func NewConfusionMeter(numClasses int, normalized bool) (*ConfusionMeter, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("confusion meter requires at least 2 classes, got %d", numClasses)
	}

	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMeter{
		numClasses: numClasses,
		normalized: normalized,
		matrix:     matrix,
	}, nil
}

// Reset clears all counts.
func (m *ConfusionMeter) Reset() {
	for i := range m.matrix {
		for j := range m.matrix[i] {
			m.matrix[i][j] = 0
		}
	}
	m.total = 0
}

// Add increments matrix[true][predicted] for every example in the batch.
func (m *ConfusionMeter) Add(logits *tensor.Tensor, labels *tensor.Tensor) error {
	scores, err := logits.Float32Data()
	if err != nil {
		return fmt.Errorf("logits: %v", err)
	}
	targets, err := labels.Int32Data()
	if err != nil {
		return fmt.Errorf("labels: %v", err)
	}

	if len(logits.Shape) != 2 {
		return fmt.Errorf("logits must be 2D [batch, classes], got shape %v", logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	if numClasses != m.numClasses {
		return fmt.Errorf("class count mismatch: meter has %d, logits have %d", m.numClasses, numClasses)
	}
	if len(targets) != batchSize {
		return fmt.Errorf("batch size mismatch: %d logits rows, %d labels", batchSize, len(targets))
	}

	for i := 0; i < batchSize; i++ {
		trueClass := int(targets[i])
		if trueClass < 0 || trueClass >= m.numClasses {
			return fmt.Errorf("label %d out of range [0, %d)", trueClass, m.numClasses)
		}

		row := scores[i*numClasses : (i+1)*numClasses]
		predClass := 0
		maxVal := row[0]
		for j := 1; j < numClasses; j++ {
			if row[j] > maxVal {
				maxVal = row[j]
				predClass = j
			}
		}

		m.matrix[trueClass][predClass]++
		m.total++
	}

	return nil
}

// Value returns the confusion matrix. Counts are returned as float64;
// when the meter was created with normalized=true, each row is scaled to
// sum to 1 (rows with no examples stay all-zero).
func (m *ConfusionMeter) Value() [][]float64 {
	out := make([][]float64, m.numClasses)
	for i := range m.matrix {
		out[i] = make([]float64, m.numClasses)
		rowSum := 0
		for _, c := range m.matrix[i] {
			rowSum += c
		}
		for j, c := range m.matrix[i] {
			if m.normalized && rowSum > 0 {
				out[i][j] = float64(c) / float64(rowSum)
			} else {
				out[i][j] = float64(c)
			}
		}
	}
	return out
}

// Total returns the number of examples counted since the last Reset.
// Before normalization the matrix entries sum to exactly this value.
func (m *ConfusionMeter) Total() int {
	return m.total
}

// sortedKeys returns map keys in deterministic order for rendering.
func sortedKeys(metrics map[string]float64) []string {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
