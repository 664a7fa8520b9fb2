package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/modality"
)

// NewPlanCmd prints the presence the scheduler assigns to every batch of
// a pass.
func NewPlanCmd() *cobra.Command {
	var (
		batches int
		rate    string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the modality schedule of one pass",
		Long: `Show how many modalities each batch of a pass keeps for a given missing rate.

Examples:
  mmsa plan --batches 10 --missing-rate 0.4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := modality.ParseRate(rate)
			if err != nil {
				return err
			}
			pass, err := modality.NewPass(batches, r)
			if err != nil {
				return err
			}
			plan := pass.Plan()

			if asJSON {
				logJSONCmd(*cmd, plan)

				return nil
			}

			var tally modality.Tally
			out := cmd.OutOrStdout()
			for _, d := range plan {
				tally.Add(d.Presence)
				fmt.Fprintf(out, "%4d  %s\n", d.Batch+1, d.Presence)
			}
			two, one := r.Targets()
			fmt.Fprintf(out, "\nrate %s over %d batches (normalized %d): one=%d two=%d three=%d (targets %.2f / %.2f)\n",
				r, batches, modality.NormalizedTotal(batches), tally.One, tally.Two, tally.Three, one, two)

			return nil
		},
	}
	cmd.Flags().IntVarP(&batches, "batches", "n", 10, "Batches in the pass")
	cmd.Flags().StringVarP(&rate, "missing-rate", "r", "0.4", "Missing rate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")

	return cmd
}
