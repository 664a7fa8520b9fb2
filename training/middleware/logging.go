package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/tsawler/go-mmsa/training"
)

var _ training.Runner = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	runner training.Runner
}

// Logging reports failed passes at warn level and completed ones at debug
// level. The runner's own summary line is left untouched.
func Logging(logger *slog.Logger, runner training.Runner) training.Runner {
	return &loggingMiddleware{
		logger: logger,
		runner: runner,
	}
}

func (lm *loggingMiddleware) Train(ctx context.Context, info training.PassInfo, src training.BatchSource) (resp training.EpochResult, err error) {
	defer func(begin time.Time) {
		lm.log(ctx, "Train pass", info, begin, err)
	}(time.Now())

	return lm.runner.Train(ctx, info, src)
}

func (lm *loggingMiddleware) Evaluate(ctx context.Context, info training.PassInfo, src training.BatchSource, withSamples bool) (resp training.EpochResult, err error) {
	defer func(begin time.Time) {
		lm.log(ctx, "Evaluate pass", info, begin, err)
	}(time.Now())

	return lm.runner.Evaluate(ctx, info, src, withSamples)
}

func (lm *loggingMiddleware) log(ctx context.Context, op string, info training.PassInfo, begin time.Time, err error) {
	args := []any{
		slog.String("duration", time.Since(begin).String()),
		slog.Group("pass",
			slog.String("mode", info.Mode),
			slog.String("split", info.Split),
			slog.Int("epoch", info.Epoch),
		),
	}
	if err != nil {
		args = append(args, slog.Any("error", err))
		lm.logger.WarnContext(ctx, op+" failed", args...)

		return
	}
	lm.logger.DebugContext(ctx, op+" completed successfully", args...)
}
