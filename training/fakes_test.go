package training

import (
	"context"
	"fmt"

	"github.com/tsawler/go-mmsa/checkpoints"
	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/model"
	"github.com/tsawler/go-mmsa/tensor"
)

// constModel predicts its single weight for every sample and adds gradStep
// to the weight's gradient on every Backward.
type constModel struct {
	w         *tensor.Parameter
	gradStep  float64
	aux       float64 // each auxiliary loss term
	presences []modality.Presence
	training  []bool
}

func newConstModel(w float64) *constModel {
	p := tensor.NewParameter("w", 1)
	p.Value.Data[0] = w
	return &constModel{w: p, gradStep: 1, aux: 1}
}

func (m *constModel) Forward(b *dataset.Batch, presence modality.Presence) (*model.Output, error) {
	m.presences = append(m.presences, presence)
	out := &model.Output{
		LossScoreL: m.aux,
		LossScoreV: m.aux,
		LossScoreA: m.aux,
		LossRec:    m.aux,
	}
	for range b.Labels {
		row := []float64{m.w.Value.Data[0]}
		out.M = append(out.M, row)
		out.FeatureT = append(out.FeatureT, row)
		out.FeatureA = append(out.FeatureA, row)
		out.FeatureV = append(out.FeatureV, row)
		out.FeatureF = append(out.FeatureF, row)
	}
	return out, nil
}

func (m *constModel) Backward(gradM [][]float64, auxWeight float64) error {
	m.w.Grad[0] += m.gradStep
	return nil
}

func (m *constModel) Parameters() []*tensor.Parameter { return []*tensor.Parameter{m.w} }

func (m *constModel) SetTraining(training bool) { m.training = append(m.training, training) }

// recordingOptimizer logs ZeroGrad and Step calls with the gradient seen at
// each step. Step subtracts lr from the weight so progress is visible.
type recordingOptimizer struct {
	lr     float64
	steps  uint64
	events []string
	grads  []float64
}

func (o *recordingOptimizer) Step(params []*tensor.Parameter) error {
	o.steps++
	o.events = append(o.events, "step")
	o.grads = append(o.grads, params[0].Grad[0])
	for _, p := range params {
		for i := range p.Value.Data {
			p.Value.Data[i] -= o.lr * p.Grad[i]
		}
	}
	return nil
}

func (o *recordingOptimizer) ZeroGrad(params []*tensor.Parameter) {
	o.events = append(o.events, "zero")
	for _, p := range params {
		p.ZeroGrad()
	}
}

func (o *recordingOptimizer) GetState() (*checkpoints.OptimizerState, error) {
	return &checkpoints.OptimizerState{Type: "Recording", Parameters: map[string]float64{"lr": o.lr}}, nil
}

func (o *recordingOptimizer) LoadState(*checkpoints.OptimizerState) error { return nil }
func (o *recordingOptimizer) GetStepCount() uint64                        { return o.steps }
func (o *recordingOptimizer) GetLearningRate() float64                    { return o.lr }
func (o *recordingOptimizer) UpdateLearningRate(lr float64)               { o.lr = lr }

// constMetrics reports a fixed accuracy.
var constMetrics = MetricsFunc(func(preds [][]float64, labels []float64) (Results, error) {
	return Results{"Acc": 1}, nil
})

// zeroLabelSource builds a loader of n samples with label 0.
func zeroLabelSource(n, batchSize int) *dataset.Loader {
	samples := make([]dataset.Sample, n)
	for i := range samples {
		samples[i] = dataset.Sample{
			ID:     fmt.Sprintf("s%d", i),
			Text:   []float64{1},
			Audio:  []float64{1},
			Vision: []float64{1},
		}
	}
	ds, err := dataset.NewMemoryDataset(samples)
	if err != nil {
		panic(err)
	}
	l, err := dataset.NewLoader(ds, batchSize, false, 1)
	if err != nil {
		panic(err)
	}
	return l
}

// scriptedRunner returns canned validation losses per epoch.
type scriptedRunner struct {
	validLoss []float64
	metric    []float64
	calls     []string
}

func (r *scriptedRunner) Train(ctx context.Context, info PassInfo, src BatchSource) (EpochResult, error) {
	r.calls = append(r.calls, fmt.Sprintf("%s-%d", info.Mode, info.Epoch))
	return EpochResult{Split: info.Split, Mode: info.Mode, Loss: 1, Metrics: Results{"Loss": 1}}, nil
}

func (r *scriptedRunner) Evaluate(ctx context.Context, info PassInfo, src BatchSource, withSamples bool) (EpochResult, error) {
	r.calls = append(r.calls, fmt.Sprintf("%s-%d", info.Mode, info.Epoch))
	i := info.Epoch - 1
	loss := r.validLoss[len(r.validLoss)-1]
	if i < len(r.validLoss) {
		loss = r.validLoss[i]
	}
	res := EpochResult{Split: info.Split, Mode: info.Mode, Loss: loss, Metrics: Results{"Loss": round4(loss)}}
	if r.metric != nil {
		m := r.metric[len(r.metric)-1]
		if i < len(r.metric) {
			m = r.metric[i]
		}
		res.Metrics["Acc"] = m
	}
	return res, nil
}
