package cli

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-mmsa/config"
)

var cfgPath string

// overrides are command line values that win over the file and the
// environment. Only flags the user actually set are applied.
type overrides struct {
	dataset        string
	dataDir        string
	trainMode      string
	missingRate    float64
	maxEpochs      int
	earlyStop      int
	batchSize      int
	seed           int64
	keyEval        string
	checkpointDir  string
	modelSavePath  string
	pretrainedPath string
	logLevel       string
	progress       bool
	metricsAddr    string
	runStore       string
	curvesPath     string
}

var flagValues overrides

// AddConfigFlag registers the persistent --config flag on the root command.
func AddConfigFlag(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "TOML configuration file")
}

func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagValues.dataset, "dataset", "", "Dataset name (mosi, mosei, sims)")
	cmd.Flags().StringVarP(&flagValues.dataDir, "data-dir", "d", "", "Directory with train/valid/test JSONL splits")
	cmd.Flags().StringVar(&flagValues.trainMode, "train-mode", "", "regression or classification")
	cmd.Flags().Int64Var(&flagValues.seed, "seed", 0, "Random seed")
	cmd.Flags().StringVar(&flagValues.logLevel, "log-level", "", "Log level")
}

func addCheckpointFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagValues.checkpointDir, "checkpoint-dir", "", "Directory for per-epoch checkpoints")
	cmd.Flags().StringVar(&flagValues.pretrainedPath, "pretrained", "", "Pretrained weights file")
}

func addTrainFlags(cmd *cobra.Command) {
	addDataFlags(cmd)
	addCheckpointFlags(cmd)
	cmd.Flags().Float64VarP(&flagValues.missingRate, "missing-rate", "r", 0, "Missing rate in (0, 0.7]")
	cmd.Flags().IntVar(&flagValues.maxEpochs, "max-epochs", 0, "Stop after this many epochs (0 means until early stop)")
	cmd.Flags().IntVar(&flagValues.earlyStop, "early-stop", 0, "Epochs without improvement before stopping")
	cmd.Flags().IntVarP(&flagValues.batchSize, "batch-size", "b", 0, "Batch size")
	cmd.Flags().StringVar(&flagValues.keyEval, "key-eval", "", "Validation metric deciding the best model")
	cmd.Flags().StringVar(&flagValues.modelSavePath, "model-save-path", "", "Path of the best checkpoint")
	cmd.Flags().BoolVar(&flagValues.progress, "progress", false, "Show progress bars")
	cmd.Flags().StringVar(&flagValues.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&flagValues.runStore, "run-store", "", "SQLite run history file (empty to disable)")
	cmd.Flags().StringVar(&flagValues.curvesPath, "curves", "", "Write loss curves to this PNG file")
}

// loadConfig loads the configuration and applies the flags set on cmd.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	v := flagValues
	set("dataset", func() { cfg.Dataset = v.dataset })
	set("data-dir", func() { cfg.DataDir = v.dataDir })
	set("train-mode", func() { cfg.TrainMode = v.trainMode })
	set("missing-rate", func() { cfg.MissingRate = v.missingRate })
	set("max-epochs", func() { cfg.MaxEpochs = v.maxEpochs })
	set("early-stop", func() { cfg.EarlyStop = v.earlyStop })
	set("batch-size", func() { cfg.BatchSize = v.batchSize })
	set("seed", func() { cfg.Seed = v.seed })
	set("key-eval", func() { cfg.KeyEval = v.keyEval })
	set("checkpoint-dir", func() { cfg.CheckpointDir = v.checkpointDir })
	set("model-save-path", func() { cfg.ModelSavePath = v.modelSavePath })
	set("pretrained", func() { cfg.PretrainedPath = v.pretrainedPath })
	set("log-level", func() { cfg.LogLevel = v.logLevel })
	set("progress", func() { cfg.Progress = v.progress })
	set("metrics-addr", func() { cfg.MetricsAddr = v.metricsAddr })
	set("run-store", func() { cfg.RunStore = v.runStore })
	set("curves", func() { cfg.CurvesPath = v.curvesPath })

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// NewConfigCmd prints the effective configuration as TOML.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after merging defaults, the config file, .env, the environment and flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := cfg.Encode(&buf); err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
	addTrainFlags(cmd)

	return cmd
}
