package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/config"
	"github.com/tsawler/go-mmsa/training"
)

func logJSONCmd(cmd cobra.Command, iList ...any) {
	for _, i := range iList {
		m, err := json.Marshal(i)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}

		pj, err := prettyjson.Format(m)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", string(pj))
	}
}

func logUsageCmd(cmd cobra.Command, u string) {
	fmt.Fprintf(cmd.OutOrStdout(), color.YellowString("\nusage: %s\n\n"), u)
}

func logErrorCmd(cmd cobra.Command, err error) {
	boldRed := color.New(color.FgRed, color.Bold)
	boldRed.Fprintf(cmd.ErrOrStderr(), "\nerror: ")

	fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", color.RedString(err.Error()))
}

func logOKCmd(cmd cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s\n\n", color.BlueString("ok"), msg)
}

// logSummaryCmd prints the outcome of a training run.
func logSummaryCmd(cmd cobra.Command, keyEval string, h *training.History) {
	bold := color.New(color.Bold)
	out := cmd.OutOrStdout()

	bold.Fprintf(out, "\nstopped: ")
	fmt.Fprintf(out, "%s after %d epochs\n", color.CyanString(h.StopReason), h.Epochs)
	bold.Fprintf(out, "best:    ")
	fmt.Fprintf(out, "%s = %s at epoch %d\n\n", keyEval, color.GreenString("%.6f", h.BestValue), h.BestEpoch)
}

// newLogger builds the JSON logger for cfg and installs it as the default.
func newLogger(cmd cobra.Command, cfg config.Config) *slog.Logger {
	logHandler := slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.Level(),
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	return logger
}
