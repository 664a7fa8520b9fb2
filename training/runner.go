package training

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/layers"
	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/model"
	"github.com/tsawler/go-mmsa/optimizer"
)

// DefaultAuxWeight weights the model's auxiliary losses in the combined loss.
const DefaultAuxWeight = 0.1

// BatchSource yields the batches of one split. dataset.Loader implements it.
type BatchSource interface {
	// Len is the number of batches in a pass
	Len() int
	// Reset rewinds for a new pass
	Reset()
	// Next returns nil once the pass is complete
	Next() (*dataset.Batch, error)
}

// Runner executes single passes over a split.
type Runner interface {
	// Train runs one optimizing pass and returns its metrics with the mean
	// combined loss.
	Train(ctx context.Context, info PassInfo, src BatchSource) (EpochResult, error)
	// Evaluate runs one pass without gradients. withSamples adds per-sample
	// ids, predictions, labels and features to the result.
	Evaluate(ctx context.Context, info PassInfo, src BatchSource, withSamples bool) (EpochResult, error)
}

// RunnerConfig configures an EpochRunner.
type RunnerConfig struct {
	ModelName    string
	MissingRate  modality.Rate
	UpdateEpochs int     // batches per optimizer step
	GradClip     float64 // -1 disables clipping
	AuxWeight    float64
	Progress     io.Writer // nil disables progress bars
}

// EpochRunner is the Runner used for training: it schedules modality
// presence per batch, combines the model's losses and steps the optimizer.
type EpochRunner struct {
	cfg       RunnerConfig
	model     model.Model
	criterion layers.Criterion
	optimizer optimizer.Optimizer
	metrics   MetricsProvider
	logger    *slog.Logger
}

var _ Runner = (*EpochRunner)(nil)

// NewEpochRunner validates the config and builds a runner. The optimizer
// may be nil for evaluation-only use.
func NewEpochRunner(cfg RunnerConfig, m model.Model, criterion layers.Criterion, opt optimizer.Optimizer, metrics MetricsProvider, logger *slog.Logger) (*EpochRunner, error) {
	if err := cfg.MissingRate.Validate(); err != nil {
		return nil, err
	}
	if cfg.UpdateEpochs <= 0 {
		cfg.UpdateEpochs = 1
	}
	if cfg.AuxWeight == 0 {
		cfg.AuxWeight = DefaultAuxWeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EpochRunner{
		cfg:       cfg,
		model:     m,
		criterion: criterion,
		optimizer: opt,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Train implements Runner.
func (r *EpochRunner) Train(ctx context.Context, info PassInfo, src BatchSource) (EpochResult, error) {
	if r.optimizer == nil {
		return EpochResult{}, fmt.Errorf("train pass needs an optimizer")
	}
	total := src.Len()
	if total == 0 {
		return EpochResult{}, fmt.Errorf("%w: %s", ErrEmptySplit, info.Split)
	}
	pass, err := modality.NewPass(total, r.cfg.MissingRate)
	if err != nil {
		return EpochResult{}, err
	}

	start := time.Now()
	params := r.model.Parameters()
	r.model.SetTraining(true)
	src.Reset()
	bar := r.progress(info, total)

	var (
		preds   [][]float64
		labels  []float64
		sumLoss float64
		left    = r.cfg.UpdateEpochs
		batches int
	)
	for {
		b, err := src.Next()
		if err != nil {
			return EpochResult{}, err
		}
		if b == nil {
			break
		}
		if left == r.cfg.UpdateEpochs {
			r.optimizer.ZeroGrad(params)
		}
		left--

		d := pass.Next()
		out, err := r.model.Forward(b, d.Presence)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		task, err := r.criterion.Forward(out.M, b.Labels)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		gradM, err := r.criterion.Backward(out.M, b.Labels)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		if err := r.model.Backward(gradM, r.cfg.AuxWeight); err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		optimizer.ClipGradValue(params, r.cfg.GradClip)

		combined := task + r.cfg.AuxWeight*out.AuxLoss()
		sumLoss += combined
		preds = append(preds, out.M...)
		labels = append(labels, b.Labels...)
		batches++

		if left == 0 {
			if err := r.optimizer.Step(params); err != nil {
				return EpochResult{}, err
			}
			left = r.cfg.UpdateEpochs
		}
		bar.Update(batches, map[string]float64{"loss": sumLoss / float64(batches)})
	}
	// Partial accumulation window at the end of the pass.
	if left < r.cfg.UpdateEpochs {
		if err := r.optimizer.Step(params); err != nil {
			return EpochResult{}, err
		}
	}
	bar.Finish()

	if batches == 0 {
		return EpochResult{}, fmt.Errorf("%w: %s", ErrEmptySplit, info.Split)
	}
	loss := sumLoss / float64(batches)
	results, err := r.metrics.Compute(preds, labels)
	if err != nil {
		return EpochResult{}, err
	}
	results["Loss"] = loss

	res := EpochResult{
		Split:    info.Split,
		Mode:     info.Mode,
		Metrics:  results,
		Loss:     loss,
		Batches:  batches,
		Presence: pass.Tally(),
		Duration: time.Since(start),
	}
	r.logPass(ctx, info, res)
	return res, nil
}

// Evaluate implements Runner.
func (r *EpochRunner) Evaluate(ctx context.Context, info PassInfo, src BatchSource, withSamples bool) (EpochResult, error) {
	total := src.Len()
	if total == 0 {
		return EpochResult{}, fmt.Errorf("%w: %s", ErrEmptySplit, info.Split)
	}
	pass, err := modality.NewPass(total, r.cfg.MissingRate)
	if err != nil {
		return EpochResult{}, err
	}

	start := time.Now()
	r.model.SetTraining(false)
	defer r.model.SetTraining(true)
	src.Reset()
	bar := r.progress(info, total)

	var samples *SampleResults
	if withSamples {
		samples = &SampleResults{Features: map[string][][]float64{}}
	}
	var (
		preds   [][]float64
		labels  []float64
		sumLoss float64
		batches int
	)
	for {
		b, err := src.Next()
		if err != nil {
			return EpochResult{}, err
		}
		if b == nil {
			break
		}
		d := pass.Next()
		out, err := r.model.Forward(b, d.Presence)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		loss, err := r.criterion.Forward(out.M, b.Labels)
		if err != nil {
			return EpochResult{}, fmt.Errorf("batch %d: %w", d.Batch, err)
		}
		sumLoss += loss
		preds = append(preds, out.M...)
		labels = append(labels, b.Labels...)
		batches++

		if samples != nil {
			samples.IDs = append(samples.IDs, b.IDs...)
			samples.Predictions = append(samples.Predictions, out.M...)
			samples.Labels = append(samples.Labels, b.Labels...)
			for _, name := range model.FeatureNames {
				f, err := out.Feature(name)
				if err != nil {
					return EpochResult{}, err
				}
				samples.Features[name] = append(samples.Features[name], f...)
			}
		}
		bar.Update(batches, nil)
	}
	bar.Finish()

	if batches == 0 {
		return EpochResult{}, fmt.Errorf("%w: %s", ErrEmptySplit, info.Split)
	}
	loss := sumLoss / float64(batches)
	results, err := r.metrics.Compute(preds, labels)
	if err != nil {
		return EpochResult{}, err
	}
	results["Loss"] = round4(loss)

	res := EpochResult{
		Split:    info.Split,
		Mode:     info.Mode,
		Metrics:  results,
		Loss:     loss,
		Batches:  batches,
		Presence: pass.Tally(),
		Duration: time.Since(start),
		Samples:  samples,
	}
	r.logPass(ctx, info, res)
	return res, nil
}

func (r *EpochRunner) progress(info PassInfo, total int) *ProgressBar {
	return NewProgressBar(r.cfg.Progress, fmt.Sprintf("%s-(%s) epoch %d", info.Mode, r.cfg.ModelName, info.Epoch), total)
}

// logPass emits the single summary line of a pass.
func (r *EpochRunner) logPass(ctx context.Context, info PassInfo, res EpochResult) {
	var summary string
	if info.Mode == PassTrain {
		metrics := res.Metrics.Clone()
		delete(metrics, "Loss")
		summary = fmt.Sprintf("%s-(%s) [%d/%d/%d] >> loss: %.4f %s",
			info.Mode, r.cfg.ModelName, info.Epoch-info.BestEpoch, info.Epoch, info.Seed, round4(res.Loss), metrics)
	} else {
		summary = fmt.Sprintf("%s-(%s) >> %s", info.Mode, r.cfg.ModelName, res.Metrics)
	}

	r.logger.InfoContext(ctx, summary,
		slog.Group("pass",
			slog.String("mode", info.Mode),
			slog.String("split", info.Split),
			slog.Int("epoch", info.Epoch),
			slog.Int("best_epoch", info.BestEpoch),
			slog.Int64("seed", info.Seed),
			slog.Int("batches", res.Batches),
			slog.Float64("loss", res.Loss),
			slog.String("duration", res.Duration.String()),
		),
		slog.Group("presence",
			slog.Int("one", res.Presence.One),
			slog.Int("two", res.Presence.Two),
			slog.Int("three", res.Presence.Three),
		),
	)
}

// finite reports whether v is a usable comparison value.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
