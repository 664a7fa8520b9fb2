package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-mmsa/optimizer"
	"github.com/tsawler/go-mmsa/report"
	"github.com/tsawler/go-mmsa/runstore"
	"github.com/tsawler/go-mmsa/training"
	"github.com/tsawler/go-mmsa/training/middleware"
)

const svcName = "mmsa"

var (
	metricsOnce  sync.Once
	passCounter  metrics.Counter
	passLatency  metrics.Histogram
	passLossLast metrics.Gauge
)

// runnerMetrics registers the runner collectors once per process.
func runnerMetrics() (metrics.Counter, metrics.Histogram, metrics.Gauge) {
	metricsOnce.Do(func() {
		passCounter, passLatency, passLossLast = middleware.MakeMetrics(svcName, "runner")
	})
	return passCounter, passLatency, passLossLast
}

// NewTrainCmd trains the reference model until early stop.
func NewTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model",
		Long: `Train the late fusion model with modality dropout until early stopping.

Examples:
  # Train on a synthetic corpus
  mmsa synth -d data/synth
  mmsa init -d data/synth
  mmsa train -d data/synth --missing-rate 0.4 --max-epochs 20`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(*cmd, cfg)

			s, err := newSession(cfg, logger)
			if err != nil {
				return err
			}

			h, err := s.train(cmd.Context(), *cmd)
			if err != nil {
				return err
			}

			logJSONCmd(*cmd, h)
			logSummaryCmd(*cmd, cfg.KeyEval, h)

			return nil
		},
	}
	addTrainFlags(cmd)

	return cmd
}

func (s *session) train(ctx context.Context, cmd cobra.Command) (*training.History, error) {
	cfg := s.cfg

	opt, err := optimizer.New(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	sched, err := training.NewLRScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	splits, err := s.splits()
	if err != nil {
		return nil, err
	}

	// Bind the metrics address up front so a busy port fails the command
	// before any epoch runs.
	ln, err := s.listenMetrics()
	if err != nil {
		return nil, err
	}
	if ln != nil {
		defer ln.Close()
	}

	var runner training.Runner
	runner, err = training.NewEpochRunner(cfg.RunnerConfig(cmd.ErrOrStderr()), s.model, s.criterion, opt, s.metrics, s.logger)
	if err != nil {
		return nil, err
	}
	tracer := noop.NewTracerProvider().Tracer(svcName)
	runner = middleware.Logging(s.logger, runner)
	runner = middleware.Tracing(tracer, runner)
	counter, latency, loss := runnerMetrics()
	runner = middleware.Metrics(counter, latency, loss, runner)

	controller, err := training.NewController(cfg.ControllerConfig(), runner, s.model, opt, sched, training.NewCheckpointManager(cfg.CheckpointConfig()), s.logger)
	if err != nil {
		return nil, err
	}

	var curves *report.Curves
	if cfg.CurvesPath != "" {
		curves = report.NewCurves(cfg.KeyEval)
		controller.AddObserver(curves)
	}

	var store *runstore.Store
	var runID string
	if cfg.RunStore != "" {
		store, err = runstore.Open(cfg.RunStore)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		run, err := store.StartRun(ctx, cfg.Dataset, cfg.ModelName, cfg.KeyEval, cfg)
		if err != nil {
			return nil, err
		}
		runID = run.ID
		controller.AddObserver(store.Observer(runID))
		s.logger.Info("run recorded", slog.String("run_id", runID), slog.String("store", cfg.RunStore))
	}

	training.PrintParameters(cmd.ErrOrStderr(), cfg.ModelName, s.model.Parameters())

	h, runErr := s.runWithMetricsServer(ctx, ln, controller, splits)
	if store != nil {
		if err := store.FinishRun(ctx, runID, h, runErr); err != nil {
			s.logger.Error("failed to finish run", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if curves != nil {
		if err := curves.WritePNG(cfg.CurvesPath); err != nil {
			return nil, err
		}
		s.logger.Info("wrote training curves", slog.String("path", cfg.CurvesPath))
	}

	return h, nil
}

// listenMetrics binds the configured metrics address. It returns a nil
// listener when no address is set.
func (s *session) listenMetrics() (net.Listener, error) {
	if s.cfg.MetricsAddr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	return ln, nil
}

// runWithMetricsServer runs the controller. When ln is set the Prometheus
// handler is served on it until training ends.
func (s *session) runWithMetricsServer(ctx context.Context, ln net.Listener, controller *training.Controller, splits training.Splits) (*training.History, error) {
	if ln == nil {
		return controller.Run(ctx, splits)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		s.logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	var h *training.History
	g.Go(func() error {
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := hs.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error shutting down metrics server", slog.Any("error", err))
			}
		}()
		var err error
		h, err = controller.Run(ctx, splits)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h, nil
}
