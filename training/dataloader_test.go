package training

import (
	"testing"

	"github.com/tsawler/go-activity/tensor"
)

func TestNewDataLoaderValidation(t *testing.T) {
	ds := NewRandomClipDataset(4, 2, 2, 4, 4, 2, 1)

	if _, err := NewDataLoader(ds, 0, false); err == nil {
		t.Errorf("expected error for zero batch size")
	}

	empty, _ := NewSimpleDataset(nil, nil, nil)
	if _, err := NewDataLoader(empty, 2, false); err == nil {
		t.Errorf("expected error for empty dataset")
	}
}

func TestDataLoaderBatchCount(t *testing.T) {
	tests := []struct {
		name        string
		datasetSize int
		batchSize   int
		wantBatches int
		lastBatch   int
	}{
		{"even split", 8, 4, 2, 4},
		{"partial last batch", 10, 4, 3, 2},
		{"single batch", 3, 8, 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := NewRandomClipDataset(tt.datasetSize, 2, 2, 4, 4, 2, 1)
			loader, err := NewDataLoader(ds, tt.batchSize, false)
			if err != nil {
				t.Fatalf("failed to create loader: %v", err)
			}

			if loader.Len() != tt.wantBatches {
				t.Errorf("expected %d batches, got %d", tt.wantBatches, loader.Len())
			}

			loader.Reset()
			var batches []*Batch
			for loader.HasNext() {
				batch, err := loader.Next()
				if err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if batch == nil {
					break
				}
				batches = append(batches, batch)
			}

			if len(batches) != tt.wantBatches {
				t.Errorf("expected %d batches from iteration, got %d", tt.wantBatches, len(batches))
			}
			last := batches[len(batches)-1]
			if last.Data.Shape[0] != tt.lastBatch {
				t.Errorf("expected last batch size %d, got %d", tt.lastBatch, last.Data.Shape[0])
			}
		})
	}
}

func TestDataLoaderBatchShapes(t *testing.T) {
	ds := NewRandomClipDataset(6, 3, 4, 8, 8, 2, 1)
	loader, err := NewDataLoader(ds, 2, false)
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}

	loader.Reset()
	batch, err := loader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	wantData := []int{2, 3, 4, 8, 8}
	if len(batch.Data.Shape) != len(wantData) {
		t.Fatalf("expected data shape %v, got %v", wantData, batch.Data.Shape)
	}
	for i, d := range wantData {
		if batch.Data.Shape[i] != d {
			t.Errorf("data shape %v, expected %v", batch.Data.Shape, wantData)
			break
		}
	}

	if len(batch.Labels.Shape) != 1 || batch.Labels.Shape[0] != 2 {
		t.Errorf("expected labels shape [2], got %v", batch.Labels.Shape)
	}
	if batch.Labels.DType != tensor.Int32 {
		t.Errorf("expected Int32 labels, got %s", batch.Labels.DType)
	}
}

func TestDataLoaderShuffleCoversDataset(t *testing.T) {
	// 10 samples over 10 classes gives each sample a unique label, so a
	// shuffled pass must still see every label exactly once.
	ds := NewRandomClipDataset(10, 1, 1, 2, 2, 10, 1)
	loader, err := NewDataLoader(ds, 3, true)
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}

	loader.Reset()
	seen := make(map[int32]int)
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if batch == nil {
			break
		}
		labels, _ := batch.Labels.Int32Data()
		for _, l := range labels {
			seen[l]++
		}
	}

	if len(seen) != 10 {
		t.Errorf("expected 10 distinct labels, got %d", len(seen))
	}
	for l, count := range seen {
		if count != 1 {
			t.Errorf("label %d seen %d times, expected once", l, count)
		}
	}
}

func TestRandomClipDatasetDeterminism(t *testing.T) {
	ds := NewRandomClipDataset(4, 2, 2, 4, 4, 2, 42)

	first, _, err := ds.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, _, err := ds.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	a, _ := first.Float32Data()
	b, _ := second.Float32Data()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("repeated Get(1) differs at element %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestRandomClipDatasetBounds(t *testing.T) {
	ds := NewRandomClipDataset(4, 2, 2, 4, 4, 2, 1)

	if _, _, err := ds.Get(-1); err == nil {
		t.Errorf("expected error for negative index")
	}
	if _, _, err := ds.Get(4); err == nil {
		t.Errorf("expected error for index past the end")
	}
}

func TestRandomClipDatasetClassMapping(t *testing.T) {
	ds := NewRandomClipDataset(6, 1, 1, 2, 2, 3, 1)

	mapping := ds.ClassToIndex()
	if len(mapping) != 3 {
		t.Fatalf("expected 3 classes, got %d", len(mapping))
	}
	if mapping["class_0"] != 0 || mapping["class_2"] != 2 {
		t.Errorf("unexpected class mapping: %v", mapping)
	}
}
