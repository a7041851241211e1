package training

import (
	"fmt"
	"strings"
	"time"
)

const progressBarWidth = 70

// ProgressBar renders an in-place, single-line progress display for one
// phase pass over a loader: percentage, bar, step counts, elapsed and
// remaining time, batch rate and the running metrics.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	metrics     map[string]float64
}

// NewProgressBar starts a bar for a pass of total steps.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		metrics:     make(map[string]float64),
	}
}

// Update redraws the bar at the given step with the running metrics.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish fills the bar and moves to the next line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Println()
}

func (pb *ProgressBar) render() {
	fraction := float64(pb.current) / float64(pb.total)
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * progressBarWidth)

	var line strings.Builder
	fmt.Fprintf(&line, "\r%s: %3.0f%%|%s%s| %d/%d",
		pb.description,
		fraction*100,
		strings.Repeat("█", filled),
		strings.Repeat(" ", progressBarWidth-filled),
		pb.current,
		pb.total,
	)

	elapsed := time.Since(pb.startTime)
	remaining := time.Duration(0)
	if pb.current > 0 && fraction < 1 {
		remaining = time.Duration(float64(elapsed)/fraction) - elapsed
	}
	fmt.Fprintf(&line, " [%s<%s", formatDuration(elapsed), formatDuration(remaining))

	if pb.current > 0 && elapsed > 0 {
		fmt.Fprintf(&line, ", %.2fbatch/s", float64(pb.current)/elapsed.Seconds())
	}

	// Sorted keys keep the metric suffix stable across redraws;
	// accuracy-like metrics render as percentages.
	for _, key := range sortedKeys(pb.metrics) {
		if strings.Contains(key, "acc") {
			fmt.Fprintf(&line, ", %s=%.2f%%", key, pb.metrics[key])
		} else {
			fmt.Fprintf(&line, ", %s=%.4f", key, pb.metrics[key])
		}
	}
	line.WriteString("]")

	fmt.Print(line.String())
}

// formatDuration renders a duration as MM:SS.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
