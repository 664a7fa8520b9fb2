package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/training"
)

// NewEvalCmd evaluates a saved checkpoint on one split.
func NewEvalCmd() *cobra.Command {
	var (
		checkpoint string
		split      string
		samplesOut string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint",
		Long: `Evaluate a checkpoint on one split with the configured missing rate.

Examples:
  mmsa eval -d data/synth --split test --checkpoint checkpoints/late_fusion-mosi.pth`,
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

			if checkpoint == "" {
				checkpoint = cfg.ModelSavePath
			}
			ckpt, err := training.LoadWeights(checkpoint, s.model.Parameters())
			if err != nil {
				return err
			}
			logger.Info("loaded checkpoint",
				slog.String("path", checkpoint),
				slog.Int("epoch", ckpt.TrainingState.Epoch),
				slog.String("description", ckpt.Metadata.Description),
			)

			src, err := s.loader(split)
			if err != nil {
				return err
			}
			runner, err := training.NewEpochRunner(cfg.RunnerConfig(cmd.ErrOrStderr()), s.model, s.criterion, nil, s.metrics, logger)
			if err != nil {
				return err
			}

			mode := training.PassTest
			if split == dataset.Valid {
				mode = training.PassValid
			}
			info := training.PassInfo{Mode: mode, Split: split, Epoch: ckpt.TrainingState.Epoch, BestEpoch: ckpt.TrainingState.BestEpoch, Seed: cfg.Seed}
			res, err := runner.Evaluate(cmd.Context(), info, src, samplesOut != "")
			if err != nil {
				return err
			}

			if samplesOut != "" {
				if err := writeSamples(samplesOut, res.Samples); err != nil {
					return err
				}
				logger.Info("wrote sample results", slog.String("path", samplesOut), slog.Int("samples", len(res.Samples.IDs)))
				res.Samples = nil
			}

			logJSONCmd(*cmd, res)

			return nil
		},
	}
	addDataFlags(cmd)
	cmd.Flags().Float64VarP(&flagValues.missingRate, "missing-rate", "r", 0, "Missing rate in (0, 0.7]")
	cmd.Flags().IntVarP(&flagValues.batchSize, "batch-size", "b", 0, "Batch size")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Checkpoint to evaluate (defaults to model_save_path)")
	cmd.Flags().StringVar(&split, "split", dataset.Test, "Split to evaluate: train, valid or test")
	cmd.Flags().StringVar(&samplesOut, "samples-out", "", "Write per-sample predictions and features to this JSON file")

	return cmd
}

func writeSamples(path string, samples *training.SampleResults) error {
	data, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("failed to marshal sample results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sample results: %w", err)
	}
	return nil
}
