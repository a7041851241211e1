package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-activity/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// ClassMapper is implemented by datasets that carry a label-to-index
// mapping. The size of the mapping determines the number of classes the
// model is built with.
type ClassMapper interface {
	ClassToIndex() map[string]int
}

// DataLoader provides batching and shuffling over a Dataset. One full
// pass (Reset, then Next until exhaustion) is one phase of an epoch; the
// sequence is finite and restartable.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
	}, nil
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// Len returns the number of batches in one pass over the dataset.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// DatasetLen returns the number of samples in the underlying dataset.
func (dl *DataLoader) DatasetLen() int {
	return dl.dataset.Len()
}

// Reset rewinds the loader for a new pass, reshuffling if configured.
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		for i := len(dl.indices) - 1; i > 0; i-- {
			j := rand.Intn(i + 1)
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		}
	}
}

// Next returns the next batch or nil when the pass is complete.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of pass
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current pass.
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch loads the samples at the given indices and stacks them into
// batched tensors with a leading batch dimension.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	batchSize := len(indices)

	// Load the first sample to determine shapes and types
	firstData, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	dataShape := append([]int{batchSize}, firstData.Shape...)

	batchData, err := tensor.Zeros(dataShape, firstData.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %v", err)
	}

	// Labels collapse to a flat [batch] vector of class indices
	batchLabels, err := tensor.Zeros([]int{batchSize}, firstLabel.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %v", err)
	}

	for i, idx := range indices {
		data, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}

		if err := copyInto(batchData, data, i); err != nil {
			return nil, fmt.Errorf("failed to copy data for sample %d: %v", i, err)
		}
		if err := copyInto(batchLabels, label, i); err != nil {
			return nil, fmt.Errorf("failed to copy label for sample %d: %v", i, err)
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

// copyInto copies a sample tensor into position batchIndex of the batch tensor.
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}

	sampleSize := sampleTensor.NumElems
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		batchData := batchTensor.Data.([]float32)
		sampleData := sampleTensor.Data.([]float32)

		if offset+sampleSize > len(batchData) {
			return fmt.Errorf("sample does not fit in batch tensor at index %d", batchIndex)
		}
		copy(batchData[offset:offset+sampleSize], sampleData)

	case tensor.Int32:
		batchData := batchTensor.Data.([]int32)
		sampleData := sampleTensor.Data.([]int32)

		if offset+sampleSize > len(batchData) {
			return fmt.Errorf("sample does not fit in batch tensor at index %d", batchIndex)
		}
		copy(batchData[offset:offset+sampleSize], sampleData)

	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}

	return nil
}

// SimpleDataset provides a basic in-memory Dataset implementation.
type SimpleDataset struct {
	data    []*tensor.Tensor
	labels  []*tensor.Tensor
	classes map[string]int
}

// NewSimpleDataset creates a new SimpleDataset. The classes mapping may
// be nil when the caller determines the class count elsewhere.
func NewSimpleDataset(data, labels []*tensor.Tensor, classes map[string]int) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", len(data), len(labels))
	}

	return &SimpleDataset{
		data:    data,
		labels:  labels,
		classes: classes,
	}, nil
}

// Len returns the number of samples in the dataset.
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns the sample at the given index.
func (ds *SimpleDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}
	return ds.data[idx], ds.labels[idx], nil
}

// ClassToIndex returns the label-to-index mapping.
func (ds *SimpleDataset) ClassToIndex() map[string]int {
	return ds.classes
}

// RandomClipDataset generates random video clips for testing and
// benchmarking. Clips have shape [channels, frames, height, width].
type RandomClipDataset struct {
	size       int
	channels   int
	frames     int
	height     int
	width      int
	numClasses int
	rng        *rand.Rand
}

// NewRandomClipDataset creates a new RandomClipDataset.
func NewRandomClipDataset(size, channels, frames, height, width, numClasses int, seed int64) *RandomClipDataset {
	return &RandomClipDataset{
		size:       size,
		channels:   channels,
		frames:     frames,
		height:     height,
		width:      width,
		numClasses: numClasses,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Len returns the size of the dataset.
func (rd *RandomClipDataset) Len() int {
	return rd.size
}

// Get generates a deterministic pseudo-random clip for the given index.
func (rd *RandomClipDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= rd.size {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, rd.size)
	}

	// Re-seed per index so repeated passes return identical samples
	rng := rand.New(rand.NewSource(int64(idx) + 1))

	clipSize := rd.channels * rd.frames * rd.height * rd.width
	clipData := make([]float32, clipSize)
	for i := range clipData {
		clipData[i] = rng.Float32()*2.0 - 1.0 // Range [-1, 1]
	}

	data, err = tensor.NewTensor([]int{rd.channels, rd.frames, rd.height, rd.width}, tensor.Float32, clipData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clip tensor: %v", err)
	}

	labelData := []int32{int32(idx % rd.numClasses)}
	label, err = tensor.NewTensor([]int{1}, tensor.Int32, labelData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create label tensor: %v", err)
	}

	return data, label, nil
}

// ClassToIndex returns a synthetic class mapping of the form "class_i".
func (rd *RandomClipDataset) ClassToIndex() map[string]int {
	mapping := make(map[string]int, rd.numClasses)
	for i := 0; i < rd.numClasses; i++ {
		mapping[fmt.Sprintf("class_%d", i)] = i
	}
	return mapping
}
