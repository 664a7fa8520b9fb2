package cli

import (
	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/dataset"
)

// NewSynthCmd writes a synthetic corpus as JSONL splits.
func NewSynthCmd() *cobra.Command {
	synth := dataset.DefaultSynthConfig()
	var dir string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a synthetic dataset",
		Long:  `Generate a synthetic multimodal corpus and write it as train/valid/test JSONL files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			splits, err := dataset.Synthesize(synth)
			if err != nil {
				return err
			}
			if err := dataset.WriteSplits(dir, splits); err != nil {
				return err
			}
			logOKCmd(*cmd, dir)

			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "data-dir", "d", "data/synth", "Output directory")
	cmd.Flags().IntVar(&synth.Train, "train", synth.Train, "Training samples")
	cmd.Flags().IntVar(&synth.Valid, "valid", synth.Valid, "Validation samples")
	cmd.Flags().IntVar(&synth.Test, "test", synth.Test, "Test samples")
	cmd.Flags().IntVar(&synth.Classes, "classes", synth.Classes, "Class count for classification labels (0 for regression)")
	cmd.Flags().Float64Var(&synth.Noise, "noise", synth.Noise, "Feature noise")
	cmd.Flags().Int64Var(&synth.Seed, "seed", synth.Seed, "Random seed")
	cmd.Flags().IntVar(&synth.Dims.Text, "text-dim", synth.Dims.Text, "Text feature width")
	cmd.Flags().IntVar(&synth.Dims.Audio, "audio-dim", synth.Dims.Audio, "Audio feature width")
	cmd.Flags().IntVar(&synth.Dims.Vision, "vision-dim", synth.Dims.Vision, "Vision feature width")

	return cmd
}
