package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/training"
)

// NewInitCmd writes a freshly initialized model as the pretrained file.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write pretrained initialization weights",
		Long: `Write the seeded initialization of the model as the pretrained weights file,
so that a first training run has something to start from.`,
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

			path, err := training.NewCheckpointManager(cfg.CheckpointConfig()).SavePretrained(s.model.Parameters())
			if err != nil {
				return err
			}
			logger.Info("wrote pretrained weights", slog.String("path", path), slog.Int("parameters", len(s.model.Parameters())))
			logOKCmd(*cmd, path)

			return nil
		},
	}
	addDataFlags(cmd)
	addCheckpointFlags(cmd)

	return cmd
}
