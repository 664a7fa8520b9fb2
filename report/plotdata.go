package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tsawler/go-mmsa/training"
)

// PlotType names the kind of plot a payload describes.
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is the JSON payload consumed by an external plotting sidecar.
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]any `json:"metrics,omitempty"`
}

// SeriesData is a single named series.
type SeriesData struct {
	Name  string         `json:"name"`
	Type  string         `json:"type"` // "line" or "scatter"
	Data  []DataPoint    `json:"data"`
	Style map[string]any `json:"style,omitempty"`
}

type DataPoint struct {
	X     any    `json:"x"`
	Y     any    `json:"y"`
	Label string `json:"label,omitempty"`
}

// PlotConfig carries axis and layout hints.
type PlotConfig struct {
	XAxisLabel  string `json:"x_axis_label"`
	YAxisLabel  string `json:"y_axis_label"`
	XAxisScale  string `json:"x_axis_scale"`
	YAxisScale  string `json:"y_axis_scale"`
	ShowLegend  bool   `json:"show_legend"`
	ShowGrid    bool   `json:"show_grid"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Interactive bool   `json:"interactive"`
}

func lineSeries(name string, epochs []int, ys []float64, color string) SeriesData {
	data := make([]DataPoint, len(ys))
	for i, y := range ys {
		data[i] = DataPoint{X: epochs[i], Y: y}
	}
	return SeriesData{
		Name: name,
		Type: "line",
		Data: data,
		Style: map[string]any{
			"color":     color,
			"lineWidth": 2,
		},
	}
}

func defaultConfig(yLabel string) PlotConfig {
	return PlotConfig{
		XAxisLabel:  "Epoch",
		YAxisLabel:  yLabel,
		XAxisScale:  "linear",
		YAxisScale:  "linear",
		ShowLegend:  true,
		ShowGrid:    true,
		Width:       800,
		Height:      600,
		Interactive: true,
	}
}

// PlotData builds the training curves payload. The key-eval series are
// included when the key-eval metric is not the loss.
func (c *Curves) PlotData(modelName string) PlotData {
	series := []SeriesData{
		lineSeries("Training Loss", c.Epochs, c.TrainLoss, "#FF6B6B"),
		lineSeries("Validation Loss", c.Epochs, c.ValidLoss, "#4ECDC4"),
		lineSeries("Test Loss", c.Epochs, c.TestLoss, "#5F27CD"),
	}
	yLabel := "Loss"
	if c.KeyEval != "Loss" {
		series = append(series,
			lineSeries("Validation "+c.KeyEval, c.Epochs, c.ValidKey, "#FF9F43"),
			lineSeries("Test "+c.KeyEval, c.Epochs, c.TestKey, "#6C5CE7"),
		)
		yLabel = "Loss / " + c.KeyEval
	}

	metrics := map[string]any{"epochs": c.Len()}
	if best, ok := c.best(); ok {
		metrics["best_epoch"] = c.Epochs[best]
		metrics["best_"+c.KeyEval] = c.ValidKey[best]
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    series,
		Config:    defaultConfig(yLabel),
		Metrics:   metrics,
	}
}

// LearningRatePlotData builds the learning rate payload. ok is false when
// no learning rates were observed.
func (c *Curves) LearningRatePlotData(modelName string) (PlotData, bool) {
	if len(c.LearningRate) == 0 || len(c.LearningRate) != c.Len() {
		return PlotData{}, false
	}
	cfg := defaultConfig("Learning Rate")
	cfg.YAxisScale = "log"
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    []SeriesData{lineSeries("Learning Rate", c.Epochs, c.LearningRate, "#FF9F43")},
		Config:    cfg,
	}, true
}

// best returns the index of the best validation key-eval value.
func (c *Curves) best() (int, bool) {
	if c.Len() == 0 {
		return 0, false
	}
	maximize := training.DirectionFor(c.KeyEval) == training.Maximize
	idx := 0
	for i, v := range c.ValidKey {
		if (maximize && v > c.ValidKey[idx]) || (!maximize && v < c.ValidKey[idx]) {
			idx = i
		}
	}
	return idx, true
}

// ToJSON converts plot data to an indented JSON string.
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// WriteJSON writes the payload to path.
func (pd PlotData) WriteJSON(path string) error {
	s, err := pd.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
		return fmt.Errorf("failed to write plot data: %w", err)
	}
	return nil
}
