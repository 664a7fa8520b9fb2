package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tsawler/go-mmsa/tensor"
)

// ProgressBar provides tqdm-style pass progress on a terminal
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out. A nil writer
// discards output.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = io.Discard
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		current:     0,
		startTime:   time.Now(),
		width:       40, // Character width of progress bar
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	if metrics != nil {
		pb.metrics = metrics
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description,
		percentage*100,
		bar,
		pb.current,
		pb.total,
	)

	if pb.showETA && eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}

	if pb.showRate && rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line += fmt.Sprintf(", %s=%.4f", key, pb.metrics[key])
	}

	line += "]"

	// Carriage return overwrites the previous line
	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PrintParameters prints a PyTorch-style parameter summary for a model.
func PrintParameters(out io.Writer, modelName string, params []*tensor.Parameter) {
	fmt.Fprintf(out, "%s(\n", modelName)
	total, trainable := 0, 0
	for _, p := range params {
		n := len(p.Value.Data)
		total += n
		if !p.Frozen {
			trainable += n
		}
		fmt.Fprintf(out, "  (%s): %v\n", p.Name, p.Value.Shape)
	}
	fmt.Fprintf(out, ")\n")
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(total))
	fmt.Fprintf(out, "Trainable parameters: %s\n", formatParameterCount(trainable))
	fmt.Fprintf(out, "Non-trainable parameters: %s\n", formatParameterCount(total-trainable))
	fmt.Fprintf(out, "Params size (MB): %.3f\n", float64(total*8)/1024/1024) // 8 bytes per float64
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
