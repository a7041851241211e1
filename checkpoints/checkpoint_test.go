package checkpoints

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-activity/tensor"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		DataType:   "ucf101",
		ModelType:  "stts-a",
		NumClasses: 101,
		Weights: []WeightTensor{
			{Name: "param_0", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "param_1", Shape: []int{3}, Data: []float32{0.1, -0.2, 0.3}},
		},
		TrainingState: TrainingState{
			Epoch:        17,
			LearningRate: 1e-5,
			BestAccuracy: 73.25,
		},
	}
}

func checkRoundTrip(t *testing.T, format CheckpointFormat) {
	t.Helper()

	saver := NewCheckpointSaver(format)
	path := filepath.Join(t.TempDir(), "ucf101_stts-a.pth")

	original := sampleCheckpoint()
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.DataType != original.DataType || loaded.ModelType != original.ModelType {
		t.Errorf("identity fields changed: %s/%s", loaded.DataType, loaded.ModelType)
	}
	if loaded.NumClasses != original.NumClasses {
		t.Errorf("expected %d classes, got %d", original.NumClasses, loaded.NumClasses)
	}
	if loaded.TrainingState.Epoch != 17 {
		t.Errorf("expected epoch 17, got %d", loaded.TrainingState.Epoch)
	}
	if math.Abs(loaded.TrainingState.BestAccuracy-73.25) > 1e-9 {
		t.Errorf("expected best accuracy 73.25, got %f", loaded.TrainingState.BestAccuracy)
	}
	if loaded.Metadata.Framework != "go-activity" {
		t.Errorf("expected framework metadata, got %q", loaded.Metadata.Framework)
	}

	if len(loaded.Weights) != len(original.Weights) {
		t.Fatalf("expected %d weights, got %d", len(original.Weights), len(loaded.Weights))
	}
	for i, w := range loaded.Weights {
		want := original.Weights[i]
		if w.Name != want.Name {
			t.Errorf("weight %d: expected name %s, got %s", i, want.Name, w.Name)
		}
		if len(w.Shape) != len(want.Shape) {
			t.Fatalf("weight %d: shape mismatch %v vs %v", i, w.Shape, want.Shape)
		}
		for j := range w.Shape {
			if w.Shape[j] != want.Shape[j] {
				t.Errorf("weight %d: shape mismatch %v vs %v", i, w.Shape, want.Shape)
				break
			}
		}
		for j := range w.Data {
			if math.Abs(float64(w.Data[j]-want.Data[j])) > 1e-6 {
				t.Errorf("weight %d element %d: expected %f, got %f", i, j, want.Data[j], w.Data[j])
			}
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Run("json", func(t *testing.T) { checkRoundTrip(t, FormatJSON) })
	t.Run("binary", func(t *testing.T) { checkRoundTrip(t, FormatBinary) })
}

func TestCheckpointOverwrite(t *testing.T) {
	saver := NewCheckpointSaver(FormatBinary)
	path := filepath.Join(t.TempDir(), "hmdb51_c3d.pth")

	first := sampleCheckpoint()
	first.TrainingState.Epoch = 1
	if err := saver.SaveCheckpoint(first, path); err != nil {
		t.Fatalf("first SaveCheckpoint failed: %v", err)
	}

	second := sampleCheckpoint()
	second.TrainingState.Epoch = 2
	second.TrainingState.BestAccuracy = 80
	if err := saver.SaveCheckpoint(second, path); err != nil {
		t.Fatalf("second SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.TrainingState.Epoch != 2 {
		t.Errorf("expected latest snapshot epoch 2, got %d", loaded.TrainingState.Epoch)
	}
	if loaded.TrainingState.BestAccuracy != 80 {
		t.Errorf("expected best accuracy 80, got %f", loaded.TrainingState.BestAccuracy)
	}

	// The temp file used for the atomic write must not linger.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("failed to list directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the checkpoint file, found %d entries", len(entries))
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON)
	if _, err := saver.LoadCheckpoint(filepath.Join(t.TempDir(), "absent.pth")); err == nil {
		t.Errorf("expected error for missing checkpoint file")
	}
}

func newParam(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor(shape, tensor.Float32, data)
	if err != nil {
		t.Fatalf("failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)
	return p
}

func TestExtractWeightsCopies(t *testing.T) {
	p := newParam(t, []int{2}, []float32{1, 2})

	weights, err := ExtractWeights([]*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("ExtractWeights failed: %v", err)
	}

	// Mutating the parameter after extraction must not change the snapshot.
	data, _ := p.Float32Data()
	data[0] = 99

	if weights[0].Data[0] != 1 {
		t.Errorf("snapshot shares memory with the parameter: got %f", weights[0].Data[0])
	}
	if weights[0].Name != "param_0" {
		t.Errorf("expected name param_0, got %s", weights[0].Name)
	}
}

func TestLoadWeights(t *testing.T) {
	source := newParam(t, []int{2, 2}, []float32{1, 2, 3, 4})
	weights, err := ExtractWeights([]*tensor.Tensor{source})
	if err != nil {
		t.Fatalf("ExtractWeights failed: %v", err)
	}

	target := newParam(t, []int{2, 2}, make([]float32, 4))
	if err := LoadWeights(weights, []*tensor.Tensor{target}); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	data, _ := target.Float32Data()
	for i, want := range []float32{1, 2, 3, 4} {
		if data[i] != want {
			t.Errorf("element %d: expected %f, got %f", i, want, data[i])
		}
	}
}

func TestLoadWeightsMismatch(t *testing.T) {
	source := newParam(t, []int{4}, []float32{1, 2, 3, 4})
	weights, _ := ExtractWeights([]*tensor.Tensor{source})

	if err := LoadWeights(weights, nil); err == nil {
		t.Errorf("expected error for parameter count mismatch")
	}

	wrongShape := newParam(t, []int{2, 2}, make([]float32, 4))
	if err := LoadWeights(weights, []*tensor.Tensor{wrongShape}); err == nil {
		t.Errorf("expected error for shape mismatch")
	}
}
