package model

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/layers"
	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/tensor"
)

// Selector picks which modalities are hidden for a batch with the given
// presence. It must return exactly presence.Missing() distinct modalities.
type Selector func(p modality.Presence) []modality.Modality

// RandomSelector hides uniformly chosen modalities using rng.
func RandomSelector(rng *rand.Rand) Selector {
	return func(p modality.Presence) []modality.Modality {
		perm := rng.Perm(len(modality.All))
		out := make([]modality.Modality, 0, p.Missing())
		for _, i := range perm[:p.Missing()] {
			out = append(out, modality.All[i])
		}
		return out
	}
}

// FixedSelector always hides the first presence.Missing() entries of order.
// A short order yields a short selection, which Forward rejects.
func FixedSelector(order ...modality.Modality) Selector {
	return func(p modality.Presence) []modality.Modality {
		n := min(p.Missing(), len(order))
		return append([]modality.Modality(nil), order[:n]...)
	}
}

// Config describes a LateFusion model.
type Config struct {
	Dims    dataset.Dims
	Hidden  int
	Outputs int // 1 for regression, class count for classification
	Seed    int64
}

// LateFusion encodes each modality into a shared hidden space, imputes the
// hidden modalities with the mean of the visible ones and predicts from the
// mean of the three features. Each modality also has a score head trained
// against the label, which supplies the loss_score terms; loss_rec measures
// how far the imputed features are from the true encodings.
type LateFusion struct {
	cfg       Config
	criterion layers.Criterion
	encoders  [3]*layers.Dense
	scorers   [3]*layers.Dense
	head      *layers.Dense
	selector  Selector
	training  bool

	cache *forwardCache
}

type forwardCache struct {
	labels  []float64
	inputs  [3][][]float64
	hidden  [3][][]float64
	imputed [3][][]float64
	feats   [3][][]float64
	scores  [3][][]float64
	fusion  [][]float64
	missing []modality.Modality
	visible []modality.Modality
}

var modalityPrefix = [3]string{"text", "audio", "vision"}

// NewLateFusion builds the model with seeded initialization and a seeded
// random selector.
func NewLateFusion(cfg Config, criterion layers.Criterion) (*LateFusion, error) {
	if cfg.Hidden <= 0 || cfg.Outputs <= 0 {
		return nil, fmt.Errorf("hidden and output sizes must be positive: %d, %d", cfg.Hidden, cfg.Outputs)
	}
	in := [3]int{cfg.Dims.Text, cfg.Dims.Audio, cfg.Dims.Vision}
	for i, d := range in {
		if d <= 0 {
			return nil, fmt.Errorf("%s feature width must be positive, got %d", modalityPrefix[i], d)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &LateFusion{
		cfg:       cfg,
		criterion: criterion,
		training:  true,
	}
	for i := range m.encoders {
		m.encoders[i] = layers.NewDense(modalityPrefix[i]+"_encoder", in[i], cfg.Hidden, rng)
		m.scorers[i] = layers.NewDense(modalityPrefix[i]+"_score", cfg.Hidden, cfg.Outputs, rng)
	}
	m.head = layers.NewDense("fusion_head", cfg.Hidden, cfg.Outputs, rng)
	m.selector = RandomSelector(rand.New(rand.NewSource(cfg.Seed + 1)))
	return m, nil
}

// SetSelector replaces the modality selector.
func (m *LateFusion) SetSelector(s Selector) {
	m.selector = s
}

// SetTraining switches between training (caches activations for Backward)
// and evaluation.
func (m *LateFusion) SetTraining(training bool) {
	m.training = training
	if !training {
		m.cache = nil
	}
}

// Parameters returns every trainable parameter in a stable order.
func (m *LateFusion) Parameters() []*tensor.Parameter {
	var out []*tensor.Parameter
	for _, e := range m.encoders {
		out = append(out, e.Parameters()...)
	}
	for _, s := range m.scorers {
		out = append(out, s.Parameters()...)
	}
	return append(out, m.head.Parameters()...)
}

// Forward runs the model on a batch with the given number of visible
// modalities.
func (m *LateFusion) Forward(b *dataset.Batch, presence modality.Presence) (*Output, error) {
	if !presence.Valid() {
		return nil, fmt.Errorf("%w: %d", modality.ErrInvalidPresence, int(presence))
	}
	missing := m.selector(presence)
	visible, err := visibleSet(missing, presence)
	if err != nil {
		return nil, err
	}

	c := &forwardCache{
		labels:  b.Labels,
		inputs:  [3][][]float64{b.Text, b.Audio, b.Vision},
		missing: missing,
		visible: visible,
	}
	for i, enc := range m.encoders {
		if len(c.inputs[i]) != b.Size() {
			return nil, fmt.Errorf("%w: %d %s rows for %d labels", ErrInputMismatch, len(c.inputs[i]), modalityPrefix[i], b.Size())
		}
		h, err := enc.Forward(c.inputs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputMismatch, err)
		}
		c.hidden[i] = h
	}

	for i := range c.feats {
		c.feats[i] = c.hidden[i]
	}
	for _, mm := range missing {
		c.imputed[mm] = meanOf(c.hidden, visible)
		c.feats[mm] = c.imputed[mm]
	}
	c.fusion = meanOf(c.feats, modality.All)

	out := &Output{Missing: missing}
	if out.M, err = m.head.Forward(c.fusion); err != nil {
		return nil, err
	}

	var scoreLoss [3]float64
	for i, s := range m.scorers {
		if c.scores[i], err = s.Forward(c.feats[i]); err != nil {
			return nil, err
		}
		if scoreLoss[i], err = m.criterion.Forward(c.scores[i], b.Labels); err != nil {
			return nil, fmt.Errorf("%s score loss: %w", modalityPrefix[i], err)
		}
	}
	out.LossScoreL = scoreLoss[modality.Text]
	out.LossScoreA = scoreLoss[modality.Audio]
	out.LossScoreV = scoreLoss[modality.Vision]
	out.LossRec = m.reconstructionLoss(c)

	out.FeatureT = c.feats[modality.Text]
	out.FeatureA = c.feats[modality.Audio]
	out.FeatureV = c.feats[modality.Vision]
	out.FeatureF = c.fusion

	if m.training {
		m.cache = c
	} else {
		m.cache = nil
	}
	return out, nil
}

// reconstructionLoss is the mean squared distance between imputed and true
// encodings over all hidden modalities.
func (m *LateFusion) reconstructionLoss(c *forwardCache) float64 {
	if len(c.missing) == 0 {
		return 0
	}
	s := 0.0
	for _, mm := range c.missing {
		for n, row := range c.imputed[mm] {
			for j, v := range row {
				d := v - c.hidden[mm][n][j]
				s += d * d
			}
		}
	}
	return s / m.recDenominator(c)
}

func (m *LateFusion) recDenominator(c *forwardCache) float64 {
	return float64(len(c.labels) * len(c.missing) * m.cfg.Hidden)
}

// Backward accumulates parameter gradients of
// task + auxWeight*(loss_score_l + loss_score_v + loss_score_a + loss_rec)
// for the last training forward pass. gradM is the gradient of the task loss
// with respect to M.
func (m *LateFusion) Backward(gradM [][]float64, auxWeight float64) error {
	c := m.cache
	if c == nil {
		return ErrNoForward
	}
	m.cache = nil

	gFusion := m.head.Backward(c.fusion, gradM)

	var gFeat [3][][]float64
	for i, s := range m.scorers {
		gFeat[i] = scaled(gFusion, 1.0/3)
		gScore, err := m.criterion.Backward(c.scores[i], c.labels)
		if err != nil {
			return err
		}
		addInto(gFeat[i], s.Backward(c.feats[i], scaled(gScore, auxWeight)))
	}

	var gHidden [3][][]float64
	for i := range gHidden {
		gHidden[i] = zerosLike(c.hidden[i])
	}
	for _, v := range c.visible {
		addInto(gHidden[v], gFeat[v])
	}
	if len(c.missing) > 0 {
		k := 2 * auxWeight / m.recDenominator(c)
		share := 1.0 / float64(len(c.visible))
		for _, mm := range c.missing {
			gImp := gFeat[mm]
			for n, row := range c.imputed[mm] {
				for j, v := range row {
					d := k * (v - c.hidden[mm][n][j])
					gImp[n][j] += d
					gHidden[mm][n][j] -= d
				}
			}
			for _, v := range c.visible {
				addInto(gHidden[v], scaled(gImp, share))
			}
		}
	}

	for i, enc := range m.encoders {
		enc.Backward(c.inputs[i], gHidden[i])
	}
	return nil
}

func visibleSet(missing []modality.Modality, presence modality.Presence) ([]modality.Modality, error) {
	if len(missing) != presence.Missing() {
		return nil, fmt.Errorf("%w: %d hidden for presence %s", ErrSelection, len(missing), presence)
	}
	hidden := map[modality.Modality]bool{}
	for _, mm := range missing {
		if mm < modality.Text || mm > modality.Vision || hidden[mm] {
			return nil, fmt.Errorf("%w: %v", ErrSelection, missing)
		}
		hidden[mm] = true
	}
	var visible []modality.Modality
	for _, mm := range modality.All {
		if !hidden[mm] {
			visible = append(visible, mm)
		}
	}
	return visible, nil
}

func meanOf(xs [3][][]float64, which []modality.Modality) [][]float64 {
	out := zerosLike(xs[which[0]])
	w := 1.0 / float64(len(which))
	for _, mm := range which {
		for n, row := range xs[mm] {
			for j, v := range row {
				out[n][j] += v * w
			}
		}
	}
	return out
}

func zerosLike(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = make([]float64, len(row))
	}
	return out
}

func scaled(x [][]float64, k float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = v * k
		}
		out[i] = r
	}
	return out
}

func addInto(dst, src [][]float64) {
	for i, row := range src {
		for j, v := range row {
			dst[i][j] += v
		}
	}
}
