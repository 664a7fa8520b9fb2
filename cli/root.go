// Package cli implements the mmsa command line: training, evaluation,
// pretrained initialization, synthetic data, schedule plans and run history.
package cli

import "github.com/spf13/cobra"

// NewRootCmd assembles the mmsa command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mmsa",
		Short: "Missing-modality sentiment training",
		Long: `mmsa trains a multimodal sentiment model while dropping modalities per batch
according to a configured missing rate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddConfigFlag(rootCmd)

	rootCmd.AddCommand(
		NewTrainCmd(),
		NewEvalCmd(),
		NewInitCmd(),
		NewSynthCmd(),
		NewPlanCmd(),
		NewRunsCmd(),
		NewConfigCmd(),
	)

	return rootCmd
}
