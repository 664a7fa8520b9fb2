package cli

import (
	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/runstore"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10
)

// NewRunsCmd inspects the recorded run history.
func NewRunsCmd() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "runs [list|view]",
		Short: "Run history",
		Long:  `List and view recorded training runs.`,
	}

	open := func(cmd *cobra.Command) (*runstore.Store, error) {
		if !cmd.Flags().Changed("run-store") {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return nil, err
			}
			storePath = cfg.RunStore
		}
		return runstore.Open(storePath)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Long:  `List runs, newest first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(cmd.Context(), defOffset, defLimit)
			if err != nil {
				return err
			}
			logJSONCmd(*cmd, runs)

			return nil
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View a run and its epoch results",
		Long:  `View a run and its per-epoch split results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return nil
			}

			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			run, err := s.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			epochs, err := s.ListEpochs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logJSONCmd(*cmd, run, epochs)

			return nil
		},
	}

	cmd.AddCommand(listCmd, viewCmd)

	cmd.PersistentFlags().StringVar(&storePath, "run-store", "", "SQLite run history file (defaults to run_store)")
	cmd.PersistentFlags().Uint64VarP(&defOffset, "offset", "o", defOffset, "Offset")
	cmd.PersistentFlags().Uint64VarP(&defLimit, "limit", "l", defLimit, "Limit")

	return cmd
}
