package training

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tsawler/go-mmsa/checkpoints"
	"github.com/tsawler/go-mmsa/model"
	"github.com/tsawler/go-mmsa/optimizer"
)

// ControllerState is the lifecycle state of a Controller.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateRunning
	StateStopped
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ControllerState(%d)", int(s))
	}
}

// Stop reasons recorded in History.StopReason.
const (
	StopEarly     = "early_stop"
	StopMaxEpochs = "max_epochs"
)

// ControllerConfig configures a training run.
type ControllerConfig struct {
	KeyEval            string
	EarlyStop          int
	MaxEpochs          int // 0 means unbounded
	ReturnEpochResults bool
	Seed               int64
}

// Splits are the batch sources of one run.
type Splits struct {
	Train BatchSource
	Valid BatchSource
	Test  BatchSource
}

// EpochRecord is what observers see after every epoch.
type EpochRecord struct {
	Epoch        int
	Train        EpochResult
	Valid        EpochResult
	Test         EpochResult
	Improved     bool
	Best         BestState
	LearningRate float64
	Checkpoint   string
}

// EpochObserver is notified after each completed epoch. An error aborts
// the run.
type EpochObserver interface {
	ObserveEpoch(ctx context.Context, rec EpochRecord) error
}

// EpochObserverFunc adapts a function to EpochObserver.
type EpochObserverFunc func(ctx context.Context, rec EpochRecord) error

func (f EpochObserverFunc) ObserveEpoch(ctx context.Context, rec EpochRecord) error {
	return f(ctx, rec)
}

// Controller runs epochs until early stopping. It owns the best state, the
// optimizer and the LR scheduler for the lifetime of one run.
type Controller struct {
	cfg         ControllerConfig
	runner      Runner
	model       model.Model
	optimizer   optimizer.Optimizer
	scheduler   LRScheduler
	checkpoints *CheckpointManager
	observers   []EpochObserver
	logger      *slog.Logger

	state  ControllerState
	best   BestState
	baseLR float64
}

// NewController wires a controller. scheduler may be nil for a constant
// learning rate.
func NewController(cfg ControllerConfig, runner Runner, m model.Model, opt optimizer.Optimizer, scheduler LRScheduler, cm *CheckpointManager, logger *slog.Logger) (*Controller, error) {
	if cfg.KeyEval == "" {
		cfg.KeyEval = "Loss"
	}
	if cfg.EarlyStop <= 0 {
		return nil, fmt.Errorf("early_stop must be positive, got %d", cfg.EarlyStop)
	}
	if cfg.MaxEpochs < 0 {
		return nil, fmt.Errorf("max_epochs must not be negative, got %d", cfg.MaxEpochs)
	}
	if runner == nil || m == nil || opt == nil || cm == nil {
		return nil, fmt.Errorf("controller needs a runner, model, optimizer and checkpoint manager")
	}
	if scheduler == nil {
		scheduler = &NoOpScheduler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:         cfg,
		runner:      runner,
		model:       m,
		optimizer:   opt,
		scheduler:   scheduler,
		checkpoints: cm,
		logger:      logger,
		best:        NewBestState(DirectionFor(cfg.KeyEval)),
		baseLR:      opt.GetLearningRate(),
	}, nil
}

// AddObserver registers an observer called after every epoch.
func (c *Controller) AddObserver(o EpochObserver) {
	c.observers = append(c.observers, o)
}

// State returns the current lifecycle state.
func (c *Controller) State() ControllerState {
	return c.state
}

// Best returns the best validation state so far.
func (c *Controller) Best() BestState {
	return c.best
}

// Run loads the pretrained initialization and trains until early stop or
// max epochs. The returned History always carries the best epoch and stop
// reason; the per-epoch slices are filled only with ReturnEpochResults.
func (c *Controller) Run(ctx context.Context, splits Splits) (*History, error) {
	if splits.Train == nil || splits.Valid == nil || splits.Test == nil {
		return nil, fmt.Errorf("%w: train, valid and test are all required", ErrMissingSplit)
	}

	params := c.model.Parameters()
	report, err := c.checkpoints.LoadPretrained(params)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "loaded pretrained weights",
		slog.String("path", c.checkpoints.PretrainedPath()),
		slog.Int("loaded", len(report.Loaded)),
		slog.Any("missing", report.Missing),
		slog.Any("unexpected", report.Unexpected),
	)

	c.state = StateRunning
	history := &History{}
	for epoch := 1; c.state == StateRunning; epoch++ {
		rec, err := c.runEpoch(ctx, epoch, splits)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		history.Epochs = epoch
		if c.cfg.ReturnEpochResults {
			history.Train = append(history.Train, rec.Train)
			history.Valid = append(history.Valid, rec.Valid)
			history.Test = append(history.Test, rec.Test)
		}
		for _, o := range c.observers {
			if err := o.ObserveEpoch(ctx, rec); err != nil {
				return nil, fmt.Errorf("epoch %d observer: %w", epoch, err)
			}
		}

		switch {
		case c.best.ShouldStop(epoch, c.cfg.EarlyStop):
			history.StopReason = StopEarly
			c.state = StateStopped
		case c.cfg.MaxEpochs > 0 && epoch >= c.cfg.MaxEpochs:
			history.StopReason = StopMaxEpochs
			c.state = StateStopped
		}
	}

	history.BestEpoch = c.best.Epoch
	history.BestValue = c.best.Value
	c.logger.InfoContext(ctx, "training stopped",
		slog.String("reason", history.StopReason),
		slog.Int("epochs", history.Epochs),
		slog.Int("best_epoch", history.BestEpoch),
		slog.String("key_eval", c.cfg.KeyEval),
		slog.Float64("best_value", history.BestValue),
	)
	return history, nil
}

func (c *Controller) runEpoch(ctx context.Context, epoch int, splits Splits) (EpochRecord, error) {
	info := func(mode, split string) PassInfo {
		return PassInfo{Mode: mode, Split: split, Epoch: epoch, BestEpoch: c.best.Epoch, Seed: c.cfg.Seed}
	}
	rec := EpochRecord{Epoch: epoch}

	var err error
	if rec.Train, err = c.runner.Train(ctx, info(PassTrain, "train"), splits.Train); err != nil {
		return rec, err
	}
	if rec.Valid, err = c.runner.Evaluate(ctx, info(PassValid, "valid"), splits.Valid, false); err != nil {
		return rec, err
	}
	if rec.Test, err = c.runner.Evaluate(ctx, info(PassTest, "test"), splits.Test, false); err != nil {
		return rec, err
	}

	rec.LearningRate = c.adaptLearningRate(ctx, epoch, rec.Valid.Loss)

	cur, err := c.keyEvalValue(rec.Valid)
	if err != nil {
		return rec, err
	}
	rec.Improved = c.best.Observe(epoch, cur)
	rec.Best = c.best

	state := checkpoints.TrainingState{
		Epoch:        epoch,
		Step:         int(c.optimizer.GetStepCount()),
		LearningRate: rec.LearningRate,
		BestValue:    c.best.Value,
		BestEpoch:    c.best.Epoch,
		KeyEval:      c.cfg.KeyEval,
	}
	if rec.Checkpoint, err = c.checkpoints.SaveEpoch(c.model.Parameters(), c.optimizer, state); err != nil {
		return rec, err
	}
	c.logger.DebugContext(ctx, "saved epoch checkpoint", slog.String("path", rec.Checkpoint))

	if rec.Improved {
		path, err := c.checkpoints.SaveBest(c.model.Parameters(), c.optimizer, state)
		if err != nil {
			return rec, err
		}
		c.logger.InfoContext(ctx, "saved best checkpoint",
			slog.String("path", path),
			slog.Int("epoch", epoch),
			slog.String("key_eval", c.cfg.KeyEval),
			slog.Float64("value", cur),
		)
	}
	return rec, nil
}

// adaptLearningRate steps the scheduler after an epoch and applies the new
// rate to the optimizer.
func (c *Controller) adaptLearningRate(ctx context.Context, epoch int, validLoss float64) float64 {
	current := c.optimizer.GetLearningRate()
	var next float64
	if ms, ok := c.scheduler.(MetricScheduler); ok {
		next = ms.Step(validLoss, current)
	} else {
		next = c.scheduler.GetLR(epoch, 0, c.baseLR)
	}
	if next != current {
		c.optimizer.UpdateLearningRate(next)
		c.logger.InfoContext(ctx, "learning rate changed",
			slog.String("scheduler", c.scheduler.GetName()),
			slog.Int("epoch", epoch),
			slog.Float64("from", current),
			slog.Float64("to", next),
		)
	}
	return next
}

// keyEvalValue picks the comparison value. Loss compares at full precision.
func (c *Controller) keyEvalValue(valid EpochResult) (float64, error) {
	if c.cfg.KeyEval == "Loss" {
		return valid.Loss, nil
	}
	v, ok := valid.Metrics[c.cfg.KeyEval]
	if !ok {
		return 0, fmt.Errorf("%w: %s (have %v)", ErrKeyEval, c.cfg.KeyEval, valid.Metrics.Keys())
	}
	if !finite(v) {
		return 0, fmt.Errorf("%w: %s is %v", ErrKeyEval, c.cfg.KeyEval, v)
	}
	return v, nil
}
