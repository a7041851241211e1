// Package checkpoints persists model-parameter snapshots. Two formats
// are supported: human-readable JSON and a compact protobuf binary
// encoding used for the training engine's best-model artifact. Saves
// always overwrite through a temp-file rename, so an interrupted write
// never corrupts the previous snapshot.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tsawler/go-activity/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a complete model snapshot: weights plus the
// training state at the time the snapshot was taken.
type Checkpoint struct {
	DataType   string `json:"data_type"`
	ModelType  string `json:"model_type"`
	NumClasses int    `json:"num_classes"`

	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the training progress at snapshot time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint, overwriting any
// previous file at path atomically.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-activity"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var data []byte
	var err error

	switch cs.format {
	case FormatJSON:
		data, err = json.MarshalIndent(checkpoint, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %v", err)
		}
	case FormatBinary:
		data, err = marshalBinary(checkpoint)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %v", err)
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	return writeAtomic(path, data)
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	switch cs.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
		}
		return &checkpoint, nil
	case FormatBinary:
		return unmarshalBinary(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// writeAtomic writes data to path through a temp file and rename so the
// previous file survives a crash mid-write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint file: %v", writeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint file: %v", err)
	}
	return nil
}

// marshalBinary encodes the checkpoint as a protobuf Struct message.
func marshalBinary(checkpoint *Checkpoint) ([]byte, error) {
	weights := make([]interface{}, len(checkpoint.Weights))
	for i, w := range checkpoint.Weights {
		shape := make([]interface{}, len(w.Shape))
		for j, dim := range w.Shape {
			shape[j] = dim
		}
		data := make([]interface{}, len(w.Data))
		for j, v := range w.Data {
			data[j] = v
		}
		weights[i] = map[string]interface{}{
			"name":  w.Name,
			"shape": shape,
			"data":  data,
		}
	}

	fields := map[string]interface{}{
		"data_type":   checkpoint.DataType,
		"model_type":  checkpoint.ModelType,
		"num_classes": checkpoint.NumClasses,
		"weights":     weights,
		"training_state": map[string]interface{}{
			"epoch":         checkpoint.TrainingState.Epoch,
			"learning_rate": checkpoint.TrainingState.LearningRate,
			"best_accuracy": checkpoint.TrainingState.BestAccuracy,
		},
		"metadata": map[string]interface{}{
			"version":    checkpoint.Metadata.Version,
			"framework":  checkpoint.Metadata.Framework,
			"created_at": checkpoint.Metadata.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot message: %v", err)
	}

	return proto.Marshal(msg)
}

// unmarshalBinary decodes a protobuf Struct message into a checkpoint.
func unmarshalBinary(data []byte) (*Checkpoint, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	fields := msg.AsMap()
	checkpoint := &Checkpoint{
		DataType:   asString(fields["data_type"]),
		ModelType:  asString(fields["model_type"]),
		NumClasses: int(asFloat(fields["num_classes"])),
	}

	if ts, ok := fields["training_state"].(map[string]interface{}); ok {
		checkpoint.TrainingState = TrainingState{
			Epoch:        int(asFloat(ts["epoch"])),
			LearningRate: asFloat(ts["learning_rate"]),
			BestAccuracy: asFloat(ts["best_accuracy"]),
		}
	}

	if md, ok := fields["metadata"].(map[string]interface{}); ok {
		checkpoint.Metadata.Version = asString(md["version"])
		checkpoint.Metadata.Framework = asString(md["framework"])
		if t, err := time.Parse(time.RFC3339Nano, asString(md["created_at"])); err == nil {
			checkpoint.Metadata.CreatedAt = t
		}
	}

	rawWeights, ok := fields["weights"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("checkpoint has no weights field")
	}

	checkpoint.Weights = make([]WeightTensor, len(rawWeights))
	for i, raw := range rawWeights {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("malformed weight entry %d", i)
		}

		w := WeightTensor{Name: asString(entry["name"])}

		if shape, ok := entry["shape"].([]interface{}); ok {
			w.Shape = make([]int, len(shape))
			for j, dim := range shape {
				w.Shape[j] = int(asFloat(dim))
			}
		}
		if values, ok := entry["data"].([]interface{}); ok {
			w.Data = make([]float32, len(values))
			for j, v := range values {
				w.Data[j] = float32(asFloat(v))
			}
		}

		checkpoint.Weights[i] = w
	}

	return checkpoint, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// ExtractWeights snapshots parameter tensors into weight records. The
// snapshot copies the data, so later training steps do not mutate it.
func ExtractWeights(params []*tensor.Tensor) ([]WeightTensor, error) {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data, err := p.Float32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %v", i, err)
		}

		dataCopy := make([]float32, len(data))
		copy(dataCopy, data)
		shapeCopy := make([]int, len(p.Shape))
		copy(shapeCopy, p.Shape)

		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: shapeCopy,
			Data:  dataCopy,
		}
	}
	return weights, nil
}

// LoadWeights copies weight records back into parameter tensors. Counts
// and shapes must match the extraction order.
func LoadWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights, %d parameters", len(weights), len(params))
	}

	for i, w := range weights {
		p := params[i]
		if len(w.Shape) != len(p.Shape) {
			return fmt.Errorf("shape mismatch for %s: checkpoint %v vs parameter %v", w.Name, w.Shape, p.Shape)
		}
		for j, dim := range w.Shape {
			if dim != p.Shape[j] {
				return fmt.Errorf("dimension mismatch for %s at index %d: checkpoint %d vs parameter %d", w.Name, j, dim, p.Shape[j])
			}
		}
		if err := p.SetData(w.Data); err != nil {
			return fmt.Errorf("failed to load weight data for %s: %v", w.Name, err)
		}
	}
	return nil
}
