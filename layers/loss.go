package layers

import (
	"errors"
	"fmt"
	"math"
)

// ErrBatchMismatch is returned when predictions and labels disagree on size.
var ErrBatchMismatch = errors.New("prediction and label batch sizes differ")

// Criterion is a task loss over a batch of predictions ([B, C]) and labels
// ([B]). Both directions reduce by the batch mean.
type Criterion interface {
	Forward(pred [][]float64, labels []float64) (float64, error)
	Backward(pred [][]float64, labels []float64) ([][]float64, error)
	Name() string
}

// NewCriterion returns L1 for regression and cross entropy for
// classification.
func NewCriterion(trainMode string) (Criterion, error) {
	switch trainMode {
	case "regression":
		return L1Loss{}, nil
	case "classification":
		return CrossEntropyLoss{}, nil
	default:
		return nil, fmt.Errorf("unknown train mode %q", trainMode)
	}
}

func checkBatch(pred [][]float64, labels []float64) error {
	if len(pred) != len(labels) {
		return fmt.Errorf("%w: %d predictions, %d labels", ErrBatchMismatch, len(pred), len(labels))
	}
	if len(pred) == 0 {
		return fmt.Errorf("%w: empty batch", ErrBatchMismatch)
	}
	return nil
}

// L1Loss is the mean absolute error between a single regression output and
// its label.
type L1Loss struct{}

func (L1Loss) Name() string { return "L1Loss" }

func (L1Loss) Forward(pred [][]float64, labels []float64) (float64, error) {
	if err := checkBatch(pred, labels); err != nil {
		return 0, err
	}
	s := 0.0
	for i, row := range pred {
		s += math.Abs(row[0] - labels[i])
	}
	return s / float64(len(pred)), nil
}

func (L1Loss) Backward(pred [][]float64, labels []float64) ([][]float64, error) {
	if err := checkBatch(pred, labels); err != nil {
		return nil, err
	}
	n := float64(len(pred))
	g := make([][]float64, len(pred))
	for i, row := range pred {
		gr := make([]float64, len(row))
		switch d := row[0] - labels[i]; {
		case d > 0:
			gr[0] = 1 / n
		case d < 0:
			gr[0] = -1 / n
		}
		g[i] = gr
	}
	return g, nil
}

// CrossEntropyLoss applies softmax over logits and takes the negative log
// likelihood of the labelled class. Labels hold class indices.
type CrossEntropyLoss struct{}

func (CrossEntropyLoss) Name() string { return "CrossEntropyLoss" }

func (CrossEntropyLoss) Forward(pred [][]float64, labels []float64) (float64, error) {
	if err := checkBatch(pred, labels); err != nil {
		return 0, err
	}
	s := 0.0
	for i, row := range pred {
		k, err := classIndex(labels[i], len(row))
		if err != nil {
			return 0, err
		}
		p := Softmax(row)
		s -= math.Log(math.Max(p[k], 1e-12))
	}
	return s / float64(len(pred)), nil
}

func (CrossEntropyLoss) Backward(pred [][]float64, labels []float64) ([][]float64, error) {
	if err := checkBatch(pred, labels); err != nil {
		return nil, err
	}
	n := float64(len(pred))
	g := make([][]float64, len(pred))
	for i, row := range pred {
		k, err := classIndex(labels[i], len(row))
		if err != nil {
			return nil, err
		}
		p := Softmax(row)
		for j := range p {
			p[j] /= n
		}
		p[k] -= 1 / n
		g[i] = p
	}
	return g, nil
}

func classIndex(label float64, classes int) (int, error) {
	k := int(label)
	if float64(k) != label || k < 0 || k >= classes {
		return 0, fmt.Errorf("label %v is not a class index in [0,%d)", label, classes)
	}
	return k, nil
}

// Softmax returns a numerically stable softmax of logits.
func Softmax(logits []float64) []float64 {
	m := math.Inf(-1)
	for _, v := range logits {
		m = math.Max(m, v)
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
