package training

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleResult(epoch int) EpochResult {
	base := float64(epoch)
	return EpochResult{
		Epoch: epoch,
		Train: PhaseMetrics{Loss: base + 0.1, Top1: 50 + base, Top5: 90 + base},
		Val:   PhaseMetrics{Loss: base + 0.2, Top1: 40 + base, Top5: 85 + base},
		Test:  PhaseMetrics{Loss: base + 0.3, Top1: 45 + base, Top5: 88 + base},
	}
}

func TestStatsRecorderAppendOrder(t *testing.T) {
	r := NewStatsRecorder()

	if err := r.Append(sampleResult(2)); err == nil {
		t.Errorf("expected error for starting at epoch 2")
	}

	if err := r.Append(sampleResult(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := r.Append(sampleResult(1)); err == nil {
		t.Errorf("expected error for repeated epoch 1")
	}
	if err := r.Append(sampleResult(3)); err == nil {
		t.Errorf("expected error for skipping epoch 2")
	}
	if err := r.Append(sampleResult(2)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(r.Rows()) != 2 {
		t.Errorf("expected 2 rows, got %d", len(r.Rows()))
	}
}

func TestStatsRecorderPersist(t *testing.T) {
	r := NewStatsRecorder()
	if err := r.Append(sampleResult(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ucf101_c3d_results.csv")
	if err := r.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open results file: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected header plus 1 row, got %d records", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(statsHeader, ",") {
		t.Errorf("unexpected header: %v", records[0])
	}
	if len(records[1]) != 10 {
		t.Errorf("expected 10 columns, got %d", len(records[1]))
	}
	if records[1][0] != "1" {
		t.Errorf("expected epoch column 1, got %s", records[1][0])
	}
	if records[1][1] != "1.100000" {
		t.Errorf("expected train loss 1.100000, got %s", records[1][1])
	}
}

func TestStatsRecorderRowsAccumulate(t *testing.T) {
	r := NewStatsRecorder()
	path := filepath.Join(t.TempDir(), "results.csv")

	// Persist after each of three epochs; earlier rows must survive every
	// rewrite byte for byte.
	var afterOne []byte
	for epoch := 1; epoch <= 3; epoch++ {
		if err := r.Append(sampleResult(epoch)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := r.Persist(path); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
		if epoch == 1 {
			afterOne, _ = os.ReadFile(path)
		}
	}

	final, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read results file: %v", err)
	}
	if !bytes.HasPrefix(final, afterOne) {
		t.Errorf("earlier rows were not preserved byte-identically across rewrites")
	}

	f, _ := os.Open(path)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 4 {
		t.Errorf("expected header plus 3 rows, got %d records", len(records))
	}
}

func TestStatsRecorderPersistIdempotent(t *testing.T) {
	r := NewStatsRecorder()
	if err := r.Append(sampleResult(1)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "results.csv")

	if err := r.Persist(path); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	first, _ := os.ReadFile(path)

	if err := r.Persist(path); err != nil {
		t.Fatalf("second Persist failed: %v", err)
	}
	second, _ := os.ReadFile(path)

	if !bytes.Equal(first, second) {
		t.Errorf("repeated Persist changed the file contents")
	}
}
