// Package config loads run configuration from defaults, an optional TOML
// file, a .env file and MMSA_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"

	"github.com/tsawler/go-mmsa/modality"
	"github.com/tsawler/go-mmsa/optimizer"
	"github.com/tsawler/go-mmsa/training"
)

const (
	EnvPrefix = "MMSA_"
	PathEnv   = ".env"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is everything a training run needs.
type Config struct {
	Dataset   string `toml:"dataset" env:"DATASET"`
	DataDir   string `toml:"data_dir" env:"DATA_DIR"`
	TrainMode string `toml:"train_mode" env:"TRAIN_MODE"`
	ModelName string `toml:"model_name" env:"MODEL_NAME"`

	MissingRate  float64 `toml:"missing_rate" env:"MISSING_RATE"`
	BatchSize    int     `toml:"batch_size" env:"BATCH_SIZE"`
	UpdateEpochs int     `toml:"update_epochs" env:"UPDATE_EPOCHS"`
	GradClip     float64 `toml:"grad_clip" env:"GRAD_CLIP"`
	KeyEval      string  `toml:"key_eval" env:"KEY_EVAL"`
	EarlyStop    int     `toml:"early_stop" env:"EARLY_STOP"`
	MaxEpochs    int     `toml:"max_epochs" env:"MAX_EPOCHS"`
	Seed         int64   `toml:"seed" env:"SEED"`

	CheckpointDir      string `toml:"checkpoint_dir" env:"CHECKPOINT_DIR"`
	ModelSavePath      string `toml:"model_save_path" env:"MODEL_SAVE_PATH"`
	PretrainedPath     string `toml:"pretrained_path" env:"PRETRAINED_PATH"`
	ReturnEpochResults bool   `toml:"return_epoch_results" env:"RETURN_EPOCH_RESULTS"`

	LogLevel    string `toml:"log_level" env:"LOG_LEVEL"`
	Progress    bool   `toml:"progress" env:"PROGRESS"`
	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR"`
	RunStore    string `toml:"run_store" env:"RUN_STORE"`
	CurvesPath  string `toml:"curves_path" env:"CURVES_PATH"`

	Model     ModelConfig              `toml:"model" envPrefix:"MODEL_"`
	Optimizer optimizer.Config         `toml:"optimizer" envPrefix:"OPTIMIZER_"`
	Scheduler training.SchedulerConfig `toml:"scheduler" envPrefix:"SCHEDULER_"`
}

// ModelConfig sizes the reference model.
type ModelConfig struct {
	Hidden  int `toml:"hidden" env:"HIDDEN"`
	Classes int `toml:"classes" env:"CLASSES"` // used in classification mode
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Dataset:      "mosi",
		DataDir:      "data/mosi",
		TrainMode:    training.ModeRegression,
		ModelName:    "late_fusion",
		MissingRate:  0.4,
		BatchSize:    32,
		UpdateEpochs: 1,
		GradClip:     -1,
		KeyEval:      "Loss",
		EarlyStop:    8,
		Seed:         1111,

		CheckpointDir: "checkpoints",
		ModelSavePath: filepath.Join("checkpoints", "late_fusion-mosi.pth"),

		LogLevel: "info",
		RunStore: "mmsa-runs.db",

		Model:     ModelConfig{Hidden: 32, Classes: 3},
		Optimizer: optimizer.Config{Name: "adam", LearningRate: 1e-3},
		Scheduler: training.SchedulerConfig{Name: "plateau", Patience: 10, Factor: 0.5, Threshold: training.DefaultPlateauThreshold},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// path is not empty), then the .env file in the working directory, then
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if _, err := os.Stat(PathEnv); err == nil {
		if err := godotenv.Load(PathEnv); err != nil {
			return Config{}, fmt.Errorf("error loading %s: %w", PathEnv, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	return cfg, nil
}

// mergeFile overlays the keys present in a TOML file onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if err := tree.Unmarshal(c); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	return nil
}

// Encode writes cfg as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Order(toml.OrderPreserve).Encode(c)
}

// Validate reports every invalid field, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if _, err := c.Rate(); err != nil {
		errs = append(errs, fmt.Errorf("missing_rate: %w", err))
	}
	check(c.BatchSize > 0, "batch_size must be positive, got %d", c.BatchSize)
	check(c.UpdateEpochs > 0, "update_epochs must be positive, got %d", c.UpdateEpochs)
	check(c.EarlyStop > 0, "early_stop must be positive, got %d", c.EarlyStop)
	check(c.MaxEpochs >= 0, "max_epochs must not be negative, got %d", c.MaxEpochs)
	check(c.TrainMode == training.ModeRegression || c.TrainMode == training.ModeClassification,
		"train_mode must be %q or %q, got %q", training.ModeRegression, training.ModeClassification, c.TrainMode)
	check(c.TrainMode != training.ModeClassification || c.Model.Classes >= 2,
		"model.classes must be at least 2 in classification mode, got %d", c.Model.Classes)
	check(c.Model.Hidden > 0, "model.hidden must be positive, got %d", c.Model.Hidden)
	check(c.Optimizer.Name == "" || slices.Contains(optimizer.Names, strings.ToLower(c.Optimizer.Name)),
		"optimizer.name %q is not one of %s", c.Optimizer.Name, strings.Join(optimizer.Names, ", "))
	check(c.Scheduler.Name == "" || slices.Contains(training.SchedulerNames, strings.ToLower(c.Scheduler.Name)),
		"scheduler.name %q is not one of %s", c.Scheduler.Name, strings.Join(training.SchedulerNames, ", "))
	check(c.Dataset != "", "dataset must not be empty")
	check(c.DataDir != "", "data_dir must not be empty")
	check(c.CheckpointDir != "", "checkpoint_dir must not be empty")
	check(c.ModelSavePath != "", "model_save_path must not be empty")
	check(c.KeyEval != "", "key_eval must not be empty")

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Rate returns the validated missing rate.
func (c Config) Rate() (modality.Rate, error) {
	r := modality.Rate(c.MissingRate)
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r, nil
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Outputs is the width of the model's prediction.
func (c Config) Outputs() int {
	if c.TrainMode == training.ModeClassification {
		return c.Model.Classes
	}
	return 1
}

// RunnerConfig derives the epoch runner settings. The rate must already
// have been validated.
func (c Config) RunnerConfig(progress io.Writer) training.RunnerConfig {
	if !c.Progress {
		progress = nil
	}
	return training.RunnerConfig{
		ModelName:    c.ModelName,
		MissingRate:  modality.Rate(c.MissingRate),
		UpdateEpochs: c.UpdateEpochs,
		GradClip:     c.GradClip,
		AuxWeight:    training.DefaultAuxWeight,
		Progress:     progress,
	}
}

// ControllerConfig derives the controller settings.
func (c Config) ControllerConfig() training.ControllerConfig {
	return training.ControllerConfig{
		KeyEval:            c.KeyEval,
		EarlyStop:          c.EarlyStop,
		MaxEpochs:          c.MaxEpochs,
		ReturnEpochResults: c.ReturnEpochResults,
		Seed:               c.Seed,
	}
}

// CheckpointConfig derives the checkpoint layout.
func (c Config) CheckpointConfig() training.CheckpointConfig {
	return training.CheckpointConfig{
		SaveDirectory:  c.CheckpointDir,
		BestPath:       c.ModelSavePath,
		PretrainedPath: c.PretrainedPath,
		Dataset:        c.Dataset,
		Description:    fmt.Sprintf("%s-%s", c.ModelName, c.Dataset),
	}
}
