// Package report turns the per-epoch results of a training run into loss
// curves, either as a PNG image or as a JSON plot payload.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsawler/go-mmsa/training"
)

var ErrNoEpochs = errors.New("no epoch results to plot")

// Curves holds one value per epoch and split. It implements
// training.EpochObserver so it can be filled while a run is in progress.
type Curves struct {
	KeyEval string

	Epochs       []int
	TrainLoss    []float64
	ValidLoss    []float64
	TestLoss     []float64
	ValidKey     []float64
	TestKey      []float64
	LearningRate []float64
}

// NewCurves returns empty curves tracking keyEval next to the losses.
func NewCurves(keyEval string) *Curves {
	if keyEval == "" {
		keyEval = "Loss"
	}
	return &Curves{KeyEval: keyEval}
}

// FromHistory builds curves from a history recorded with per-epoch
// results. The learning rate is not part of a History and stays empty.
func FromHistory(h *training.History, keyEval string) (*Curves, error) {
	if h == nil || len(h.Valid) == 0 {
		return nil, ErrNoEpochs
	}
	if len(h.Train) != len(h.Valid) || len(h.Test) != len(h.Valid) {
		return nil, fmt.Errorf("history splits disagree: train %d, valid %d, test %d",
			len(h.Train), len(h.Valid), len(h.Test))
	}

	c := NewCurves(keyEval)
	for i := range h.Valid {
		c.add(i+1, h.Train[i], h.Valid[i], h.Test[i])
	}
	return c, nil
}

// ObserveEpoch appends the epoch's results.
func (c *Curves) ObserveEpoch(_ context.Context, rec training.EpochRecord) error {
	c.add(rec.Epoch, rec.Train, rec.Valid, rec.Test)
	c.LearningRate = append(c.LearningRate, rec.LearningRate)
	return nil
}

func (c *Curves) add(epoch int, train, valid, test training.EpochResult) {
	c.Epochs = append(c.Epochs, epoch)
	c.TrainLoss = append(c.TrainLoss, train.Loss)
	c.ValidLoss = append(c.ValidLoss, valid.Loss)
	c.TestLoss = append(c.TestLoss, test.Loss)
	c.ValidKey = append(c.ValidKey, keyValue(valid, c.KeyEval))
	c.TestKey = append(c.TestKey, keyValue(test, c.KeyEval))
}

// Len is the number of epochs recorded.
func (c *Curves) Len() int { return len(c.Epochs) }

func keyValue(r training.EpochResult, key string) float64 {
	if key == "Loss" {
		return r.Loss
	}
	return r.Metrics[key]
}
