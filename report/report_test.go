package report_test

import (
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-mmsa/report"
	"github.com/tsawler/go-mmsa/training"
)

func result(loss, acc float64) training.EpochResult {
	return training.EpochResult{Loss: loss, Metrics: training.Results{"Loss": loss, "Has0_acc_2": acc}}
}

func history(n int) *training.History {
	h := &training.History{Epochs: n}
	for i := 0; i < n; i++ {
		l := 1 / float64(i+1)
		h.Train = append(h.Train, result(l+0.1, 0.5))
		h.Valid = append(h.Valid, result(l, 0.5+float64(i)/10))
		h.Test = append(h.Test, result(l+0.05, 0.4))
	}
	return h
}

func TestFromHistory(t *testing.T) {
	c, err := report.FromHistory(history(3), "Has0_acc_2")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, c.Epochs)
	assert.Equal(t, []float64{1, 0.5, 1.0 / 3}, c.ValidLoss)
	assert.InDeltaSlice(t, []float64{0.5, 0.6, 0.7}, c.ValidKey, 1e-12)
	assert.Empty(t, c.LearningRate)
}

func TestFromHistoryErrors(t *testing.T) {
	_, err := report.FromHistory(nil, "Loss")
	require.ErrorIs(t, err, report.ErrNoEpochs)

	_, err = report.FromHistory(&training.History{Epochs: 4}, "Loss")
	require.ErrorIs(t, err, report.ErrNoEpochs)

	h := history(2)
	h.Test = h.Test[:1]
	_, err = report.FromHistory(h, "Loss")
	require.Error(t, err)
}

func TestObserveEpoch(t *testing.T) {
	c := report.NewCurves("")
	for i, lr := range []float64{0.1, 0.05} {
		rec := training.EpochRecord{
			Epoch:        i + 1,
			Train:        result(0.9, 0),
			Valid:        result(0.8-float64(i)/10, 0),
			Test:         result(0.85, 0),
			LearningRate: lr,
		}
		require.NoError(t, c.ObserveEpoch(context.Background(), rec))
	}
	assert.Equal(t, "Loss", c.KeyEval)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []float64{0.1, 0.05}, c.LearningRate)
	assert.Equal(t, c.ValidLoss, c.ValidKey)
}

func TestWriteCurves(t *testing.T) {
	for _, key := range []string{"Loss", "Has0_acc_2"} {
		t.Run(key, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plots", "curves.png")
			require.NoError(t, report.WriteCurves(history(4), key, path))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			img, err := png.Decode(f)
			require.NoError(t, err)
			assert.Positive(t, img.Bounds().Dx())
		})
	}
}

func TestWritePNGWithLearningRate(t *testing.T) {
	c := report.NewCurves("Loss")
	for i := 0; i < 3; i++ {
		rec := training.EpochRecord{Epoch: i + 1, Train: result(1, 0), Valid: result(0.5, 0), Test: result(0.6, 0), LearningRate: 0.01}
		require.NoError(t, c.ObserveEpoch(context.Background(), rec))
	}
	path := filepath.Join(t.TempDir(), "lr.png")
	require.NoError(t, c.WritePNG(path))
	assert.FileExists(t, path)

	require.ErrorIs(t, report.NewCurves("Loss").WritePNG(path), report.ErrNoEpochs)
}

func TestPlotData(t *testing.T) {
	c, err := report.FromHistory(history(3), "Has0_acc_2")
	require.NoError(t, err)

	pd := c.PlotData("late_fusion")
	assert.Equal(t, report.TrainingCurves, pd.PlotType)
	assert.Equal(t, "Training Curves - late_fusion", pd.Title)
	require.Len(t, pd.Series, 5)
	assert.Equal(t, "Validation Has0_acc_2", pd.Series[3].Name)
	assert.Equal(t, 3, pd.Metrics["best_epoch"])

	s, err := pd.ToJSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	assert.Equal(t, "training_curves", decoded["plot_type"])
	assert.Equal(t, "Epoch", decoded["config"].(map[string]any)["x_axis_label"])

	path := filepath.Join(t.TempDir(), "curves.json")
	require.NoError(t, pd.WriteJSON(path))
	assert.FileExists(t, path)
}

func TestPlotDataLossKey(t *testing.T) {
	c, err := report.FromHistory(history(3), "Loss")
	require.NoError(t, err)
	pd := c.PlotData("m")
	assert.Len(t, pd.Series, 3)
	assert.Equal(t, 3, pd.Metrics["best_epoch"], "lowest loss is the last epoch")

	_, ok := c.LearningRatePlotData("m")
	assert.False(t, ok)
}

func TestLearningRatePlotData(t *testing.T) {
	c := report.NewCurves("Loss")
	require.NoError(t, c.ObserveEpoch(context.Background(), training.EpochRecord{Epoch: 1, LearningRate: 0.001}))
	pd, ok := c.LearningRatePlotData("m")
	require.True(t, ok)
	assert.Equal(t, report.LearningRateSchedule, pd.PlotType)
	assert.Equal(t, "log", pd.Config.YAxisScale)
	assert.Equal(t, 0.001, pd.Series[0].Data[0].Y)
}
