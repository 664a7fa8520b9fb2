package cli

import (
	"fmt"
	"log/slog"

	"github.com/tsawler/go-mmsa/config"
	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/layers"
	"github.com/tsawler/go-mmsa/model"
	"github.com/tsawler/go-mmsa/training"
)

// session holds what every command that touches the model needs.
type session struct {
	cfg       config.Config
	logger    *slog.Logger
	data      dataset.Splits
	model     *model.LateFusion
	criterion layers.Criterion
	metrics   training.MetricsProvider
}

func newSession(cfg config.Config, logger *slog.Logger) (*session, error) {
	data, err := dataset.LoadSplits(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	criterion, err := layers.NewCriterion(cfg.TrainMode)
	if err != nil {
		return nil, err
	}

	m, err := model.NewLateFusion(model.Config{
		Dims:    data.Train.Dims(),
		Hidden:  cfg.Model.Hidden,
		Outputs: cfg.Outputs(),
		Seed:    cfg.Seed,
	}, criterion)
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}

	metrics, err := training.NewMetrics(cfg.TrainMode, cfg.Dataset)
	if err != nil {
		return nil, err
	}

	logger.Info("dataset loaded",
		slog.String("dir", cfg.DataDir),
		slog.Int("train", data.Train.Len()),
		slog.Int("valid", data.Valid.Len()),
		slog.Int("test", data.Test.Len()),
		slog.Any("dims", data.Train.Dims()),
	)

	return &session{
		cfg:       cfg,
		logger:    logger,
		data:      data,
		model:     m,
		criterion: criterion,
		metrics:   metrics,
	}, nil
}

// loader batches one split. Only the training split is shuffled.
func (s *session) loader(split string) (*dataset.Loader, error) {
	ds, err := s.data.Get(split)
	if err != nil {
		return nil, err
	}
	return dataset.NewLoader(ds, s.cfg.BatchSize, split == dataset.Train, s.cfg.Seed)
}

func (s *session) splits() (training.Splits, error) {
	var out training.Splits
	var err error
	if out.Train, err = s.loader(dataset.Train); err != nil {
		return training.Splits{}, err
	}
	if out.Valid, err = s.loader(dataset.Valid); err != nil {
		return training.Splits{}, err
	}
	if out.Test, err = s.loader(dataset.Test); err != nil {
		return training.Splits{}, err
	}
	return out, nil
}
