package model

import (
	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/tensor"
)

// Model is what the training loop drives. Forward sees the batch with the
// given number of visible modalities; Backward accumulates parameter
// gradients of task + auxWeight*AuxLoss for the last training Forward.
type Model interface {
	Forward(b *dataset.Batch, presence modality.Presence) (*Output, error)
	Backward(gradM [][]float64, auxWeight float64) error
	Parameters() []*tensor.Parameter
	SetTraining(training bool)
}

var _ Model = (*LateFusion)(nil)
