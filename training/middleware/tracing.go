// Package middleware decorates a training.Runner with tracing, metrics and
// logging.
package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsawler/go-mmsa/training"
)

var _ training.Runner = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	runner training.Runner
}

func Tracing(tracer trace.Tracer, runner training.Runner) training.Runner {
	return &tracing{tracer, runner}
}

func (tm *tracing) Train(ctx context.Context, info training.PassInfo, src training.BatchSource) (resp training.EpochResult, err error) {
	ctx, span := tm.tracer.Start(ctx, "train-pass", trace.WithAttributes(passAttributes(info, src)...))
	defer func() {
		endSpan(span, resp, err)
	}()

	return tm.runner.Train(ctx, info, src)
}

func (tm *tracing) Evaluate(ctx context.Context, info training.PassInfo, src training.BatchSource, withSamples bool) (resp training.EpochResult, err error) {
	attrs := append(passAttributes(info, src), attribute.Bool("with_samples", withSamples))
	ctx, span := tm.tracer.Start(ctx, "evaluate-pass", trace.WithAttributes(attrs...))
	defer func() {
		endSpan(span, resp, err)
	}()

	return tm.runner.Evaluate(ctx, info, src, withSamples)
}

func passAttributes(info training.PassInfo, src training.BatchSource) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mode", info.Mode),
		attribute.String("split", info.Split),
		attribute.Int("epoch", info.Epoch),
		attribute.Int("best_epoch", info.BestEpoch),
		attribute.Int("batches", src.Len()),
	}
}

func endSpan(span trace.Span, resp training.EpochResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Float64("loss", resp.Loss),
			attribute.Int("presence.one", resp.Presence.One),
			attribute.Int("presence.two", resp.Presence.Two),
			attribute.Int("presence.three", resp.Presence.Three),
		)
	}
	span.End()
}
