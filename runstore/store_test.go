package runstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/runstore"
	"github.com/tsawler/go-mmsa/training"
)

func newStore(t *testing.T) *runstore.Store {
	t.Helper()
	s, err := runstore.Open(filepath.Join(t.TempDir(), "runs_"+uuid.NewString()+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func epochRecord(epoch int, validLoss float64, improved bool) training.EpochRecord {
	result := func(mode, split string, loss float64) training.EpochResult {
		return training.EpochResult{
			Mode:     mode,
			Split:    split,
			Loss:     loss,
			Metrics:  training.Results{"Loss": loss, "MAE": loss / 2},
			Presence: modality.Tally{One: 5, Two: 2, Three: 3},
			Duration: 1500 * time.Millisecond,
		}
	}
	return training.EpochRecord{
		Epoch:        epoch,
		Train:        result(training.PassTrain, "train", validLoss+0.1),
		Valid:        result(training.PassValid, "valid", validLoss),
		Test:         result(training.PassTest, "test", validLoss+0.05),
		Improved:     improved,
		Best:         training.BestState{Direction: training.Minimize, Value: validLoss, Epoch: epoch},
		LearningRate: 0.001,
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "mosi", "late_fusion", "Loss", map[string]any{"batch_size": 32})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, runstore.StatusRunning, run.Status)

	obs := s.Observer(run.ID)
	require.NoError(t, obs.ObserveEpoch(ctx, epochRecord(1, 0.9, true)))
	require.NoError(t, obs.ObserveEpoch(ctx, epochRecord(2, 0.8, true)))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Epochs)
	assert.Equal(t, 2, got.BestEpoch)
	assert.Equal(t, 0.8, got.BestValue)
	assert.JSONEq(t, `{"batch_size": 32}`, got.Config)

	h := &training.History{Epochs: 2, BestEpoch: 2, BestValue: 0.8, StopReason: training.StopMaxEpochs}
	require.NoError(t, s.FinishRun(ctx, run.ID, h, nil))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusFinished, got.Status)
	assert.Equal(t, training.StopMaxEpochs, got.StopReason)
	assert.False(t, got.FinishedAt.IsZero())
	assert.Empty(t, got.Error)
}

func TestListEpochs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "sims", "late_fusion", "Loss", nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordEpoch(ctx, run.ID, epochRecord(1, 0.5, true)))
	require.NoError(t, s.RecordEpoch(ctx, run.ID, epochRecord(2, 0.6, false)))

	rows, err := s.ListEpochs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	var splits []string
	for _, r := range rows[:3] {
		splits = append(splits, r.Split)
	}
	assert.Equal(t, []string{"train", "valid", "test"}, splits)

	valid := rows[1]
	assert.Equal(t, 1, valid.Epoch)
	assert.True(t, valid.Improved)
	assert.Equal(t, 0.25, valid.Metrics["MAE"])
	assert.Equal(t, modality.Tally{One: 5, Two: 2, Three: 3}, valid.Presence)
	assert.Equal(t, 1500*time.Millisecond, valid.Duration)
	assert.Equal(t, 0.001, valid.LearningRate)

	assert.False(t, rows[0].Improved, "only the validation row carries the improvement flag")
	assert.False(t, rows[4].Improved)
}

func TestRecordEpochOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "mosi", "late_fusion", "Loss", nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordEpoch(ctx, run.ID, epochRecord(1, 0.5, true)))
	require.NoError(t, s.RecordEpoch(ctx, run.ID, epochRecord(1, 0.4, true)))

	rows, err := s.ListEpochs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 0.4, rows[1].Loss)
}

func TestRecordEpochUnknownRun(t *testing.T) {
	s := newStore(t)
	err := s.RecordEpoch(context.Background(), uuid.NewString(), epochRecord(1, 0.5, true))
	require.ErrorIs(t, err, runstore.ErrCreate)
}

func TestFailedRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run, err := s.StartRun(ctx, "mosi", "late_fusion", "Loss", nil)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, run.ID, nil, errors.New("pretrained weights unavailable")))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusFailed, got.Status)
	assert.Equal(t, "pretrained weights unavailable", got.Error)
	assert.Equal(t, 0, got.Epochs)
}

func TestNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, runstore.ErrNotFound)

	err = s.FinishRun(ctx, "missing", nil, nil)
	require.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.StartRun(ctx, "mosi", "late_fusion", "Loss", nil)
		require.NoError(t, err)
		ids = append(ids, run.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.ListRuns(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID, "newest first")

	runs, err = s.ListRuns(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[1], runs[0].ID)
}
