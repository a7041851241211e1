package clips

import (
	"os"
	"path/filepath"
	"testing"
)

func testGeometry() Geometry {
	return Geometry{Channels: 2, Frames: 2, Height: 2, Width: 2}
}

// writeTestDataset lays out a class-per-directory clip tree and returns
// its root.
func writeTestDataset(t *testing.T, clipsPerClass map[string]int, g Geometry) string {
	t.Helper()

	root := t.TempDir()
	for className, count := range clipsPerClass {
		dir := filepath.Join(root, className)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create class dir: %v", err)
		}

		for i := 0; i < count; i++ {
			data := make([]float32, g.numElems())
			for j := range data {
				data[j] = float32(i) + float32(j)*0.01
			}
			path := filepath.Join(dir, filepath.Base(dir)+"_"+string(rune('a'+i))+ClipExtension)
			if err := WriteClipFile(path, data); err != nil {
				t.Fatalf("failed to write clip: %v", err)
			}
		}
	}
	return root
}

func TestNewClipFolderDataset(t *testing.T) {
	g := testGeometry()
	root := writeTestDataset(t, map[string]int{"walking": 2, "jumping": 3}, g)

	ds, err := NewClipFolderDataset(root, g)
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	if ds.Len() != 5 {
		t.Errorf("expected 5 clips, got %d", ds.Len())
	}
	if ds.NumClasses() != 2 {
		t.Errorf("expected 2 classes, got %d", ds.NumClasses())
	}

	// Class indices follow sorted directory order.
	mapping := ds.ClassToIndex()
	if mapping["jumping"] != 0 || mapping["walking"] != 1 {
		t.Errorf("unexpected class mapping: %v", mapping)
	}

	dist := ds.ClassDistribution()
	if dist["walking"] != 2 || dist["jumping"] != 3 {
		t.Errorf("unexpected class distribution: %v", dist)
	}
}

func TestClipFolderDatasetGet(t *testing.T) {
	g := testGeometry()
	root := writeTestDataset(t, map[string]int{"running": 1}, g)

	ds, err := NewClipFolderDataset(root, g)
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	data, label, err := ds.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	want := []int{g.Channels, g.Frames, g.Height, g.Width}
	for i, d := range want {
		if data.Shape[i] != d {
			t.Errorf("expected shape %v, got %v", want, data.Shape)
			break
		}
	}

	values, err := data.Float32Data()
	if err != nil {
		t.Fatalf("failed to access clip data: %v", err)
	}
	// The writer encodes element j as j*0.01 for the first clip.
	if values[0] != 0 || values[1] != 0.01 {
		t.Errorf("clip data did not round-trip: %v", values[:2])
	}

	labels, err := label.Int32Data()
	if err != nil {
		t.Fatalf("failed to access label: %v", err)
	}
	if labels[0] != 0 {
		t.Errorf("expected label 0, got %d", labels[0])
	}

	if _, _, err := ds.Get(7); err == nil {
		t.Errorf("expected error for out-of-range index")
	}
}

func TestClipFolderDatasetErrors(t *testing.T) {
	g := testGeometry()

	if _, err := NewClipFolderDataset(t.TempDir(), g); err == nil {
		t.Errorf("expected error for empty root")
	}

	if _, err := NewClipFolderDataset(filepath.Join(t.TempDir(), "absent"), g); err == nil {
		t.Errorf("expected error for missing root")
	}

	if _, err := NewClipFolderDataset(t.TempDir(), Geometry{}); err == nil {
		t.Errorf("expected error for zero geometry")
	}
}

func TestClipSizeMismatch(t *testing.T) {
	g := testGeometry()

	root := t.TempDir()
	dir := filepath.Join(root, "waving")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create class dir: %v", err)
	}

	// One element short of the expected geometry.
	short := make([]float32, g.numElems()-1)
	if err := WriteClipFile(filepath.Join(dir, "bad"+ClipExtension), short); err != nil {
		t.Fatalf("failed to write clip: %v", err)
	}

	ds, err := NewClipFolderDataset(root, g)
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	if _, _, err := ds.Get(0); err == nil {
		t.Errorf("expected error for truncated clip file")
	}
}
