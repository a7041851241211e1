package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// PhaseMetrics holds the aggregated scalar results of a single phase,
// plus the phase's confusion matrix. Only the scalars are persisted to
// the statistics file; the matrix feeds the observers.
type PhaseMetrics struct {
	Loss      float64
	Top1      float64
	Top5      float64
	Confusion [][]float64
}

// EpochResult is the immutable per-epoch record of all three phases.
// It is produced once per epoch and never mutated after creation.
type EpochResult struct {
	Epoch int
	Train PhaseMetrics
	Val   PhaseMetrics
	Test  PhaseMetrics
}

// statsHeader lists the nine tracked metrics in the order they are
// written, matching the original statistics layout.
var statsHeader = []string{
	"epoch",
	"train_loss", "train_top1_accuracy", "train_top5_accuracy",
	"val_loss", "val_top1_accuracy", "val_top5_accuracy",
	"test_loss", "test_top1_accuracy", "test_top5_accuracy",
}

// StatsRecorder accumulates one EpochResult per completed epoch and
// serializes the full table after every epoch. Persist always rewrites
// the whole file, so a crash mid-run leaves a valid file reflecting only
// fully-completed epochs.
type StatsRecorder struct {
	rows []EpochResult
}

// NewStatsRecorder creates an empty recorder.
func NewStatsRecorder() *StatsRecorder {
	return &StatsRecorder{}
}

// Append adds the result of a completed epoch. Epochs are numbered from
// 1 and must arrive in order; the row count always equals the number of
// completed epochs.
func (r *StatsRecorder) Append(result EpochResult) error {
	if result.Epoch != len(r.rows)+1 {
		return fmt.Errorf("epoch out of order: expected %d, got %d", len(r.rows)+1, result.Epoch)
	}
	r.rows = append(r.rows, result)
	return nil
}

// Rows returns the accumulated results, one per completed epoch.
func (r *StatsRecorder) Rows() []EpochResult {
	return r.rows
}

// Persist writes the full accumulated table to path as CSV, overwriting
// any previous contents. The write goes through a temporary file in the
// same directory and a rename, so the overwrite is atomic at the file
// level.
func (r *StatsRecorder) Persist(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary statistics file: %v", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)

	writeErr := w.Write(statsHeader)
	if writeErr == nil {
		for _, row := range r.rows {
			record := []string{
				strconv.Itoa(row.Epoch),
				formatMetric(row.Train.Loss), formatMetric(row.Train.Top1), formatMetric(row.Train.Top5),
				formatMetric(row.Val.Loss), formatMetric(row.Val.Top1), formatMetric(row.Val.Top5),
				formatMetric(row.Test.Loss), formatMetric(row.Test.Top1), formatMetric(row.Test.Top5),
			}
			if writeErr = w.Write(record); writeErr != nil {
				break
			}
		}
	}

	if writeErr == nil {
		w.Flush()
		writeErr = w.Error()
	}

	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write statistics file: %v", writeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace statistics file: %v", err)
	}

	return nil
}

// formatMetric renders a metric scalar with stable precision so prior
// rows re-serialize byte-identically on every Persist.
func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
