package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/tsawler/go-mmsa/training"
)

var _ training.Runner = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	loss    metrics.Gauge
	runner  training.Runner
}

// Metrics counts passes per method, observes their duration and records
// the last loss of each split.
func Metrics(counter metrics.Counter, latency metrics.Histogram, loss metrics.Gauge, runner training.Runner) training.Runner {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		loss:    loss,
		runner:  runner,
	}
}

// MakeMetrics registers the pass counter, latency summary and loss gauge
// with the default Prometheus registry.
func MakeMetrics(namespace, subsystem string) (metrics.Counter, metrics.Histogram, metrics.Gauge) {
	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pass_count",
		Help:      "Number of passes run.",
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pass_latency_seconds",
		Help:      "Duration of passes in seconds.",
	}, []string{"method"})
	loss := kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pass_loss",
		Help:      "Mean loss of the latest pass per split.",
	}, []string{"split"})

	return counter, latency, loss
}

func (mm *metricsMiddleware) Train(ctx context.Context, info training.PassInfo, src training.BatchSource) (training.EpochResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "train").Add(1)
		mm.latency.With("method", "train").Observe(time.Since(begin).Seconds())
	}(time.Now())

	res, err := mm.runner.Train(ctx, info, src)
	if err == nil {
		mm.loss.With("split", info.Split).Set(res.Loss)
	}

	return res, err
}

func (mm *metricsMiddleware) Evaluate(ctx context.Context, info training.PassInfo, src training.BatchSource, withSamples bool) (training.EpochResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "evaluate").Add(1)
		mm.latency.With("method", "evaluate").Observe(time.Since(begin).Seconds())
	}(time.Now())

	res, err := mm.runner.Evaluate(ctx, info, src, withSamples)
	if err == nil {
		mm.loss.With("split", info.Split).Set(res.Loss)
	}

	return res, err
}
