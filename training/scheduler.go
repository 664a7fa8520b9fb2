package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler defines the interface for learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	// This is a pure function - no state modifications
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// MetricScheduler is an LRScheduler driven by a validation metric rather
// than the epoch index.
type MetricScheduler interface {
	LRScheduler
	// Step records one epoch's metric and returns the learning rate to use
	Step(metric float64, currentLR float64) float64
}

// SchedulerConfig selects and parameterizes an LR scheduler.
type SchedulerConfig struct {
	Name      string  `toml:"name" env:"NAME"`
	Patience  int     `toml:"patience" env:"PATIENCE"`
	Factor    float64 `toml:"factor" env:"FACTOR"`
	Threshold float64 `toml:"threshold" env:"THRESHOLD"` // negative selects DefaultPlateauThreshold
	StepSize  int     `toml:"step_size" env:"STEP_SIZE"`
	Gamma     float64 `toml:"gamma" env:"GAMMA"`
	TMax      int     `toml:"t_max" env:"T_MAX"`
	EtaMin    float64 `toml:"eta_min" env:"ETA_MIN"`
}

// DefaultPlateauThreshold is the relative improvement ReduceLROnPlateau
// requires unless configured otherwise.
const DefaultPlateauThreshold = 1e-4

// SchedulerNames lists the accepted scheduler names.
var SchedulerNames = []string{"plateau", "step", "exponential", "cosine", "constant"}

// NewLRScheduler builds the scheduler named in cfg. The default is
// ReduceLROnPlateau in min mode with factor 0.5.
func NewLRScheduler(cfg SchedulerConfig) (LRScheduler, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "plateau":
		factor := cfg.Factor
		if factor == 0 {
			factor = 0.5
		}
		return NewReduceLROnPlateauScheduler(factor, cfg.Patience, cfg.Threshold, "min"), nil
	case "step":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(cfg.TMax, cfg.EtaMin), nil
	case "constant":
		return &NoOpScheduler{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownScheduler, cfg.Name, strings.Join(SchedulerNames, ", "))
	}
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	// Calculate how many times to apply gamma
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95 // Default: 5% reduction per epoch
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100 // Default: 100 epochs
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}

	// Cosine annealing formula
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ReduceLROnPlateauScheduler reduces LR when a metric has stopped improving.
// Improvement is relative: in min mode a metric improves on best when it is
// below best*(1-Threshold). The LR is cut once more than Patience epochs in
// a row fail to improve.
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of epochs with no improvement after which LR will be reduced
	Threshold float64 // Relative threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"
	MinLR     float64

	bestMetric  float64
	badEpochs   int
	currentLR   float64
	initialized bool
}

// reductions smaller than this are skipped
const plateauEps = 1e-8

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience < 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = DefaultPlateauThreshold
	}
	if mode != "min" && mode != "max" {
		mode = "min" // Default: minimize loss
	}

	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

func (s *ReduceLROnPlateauScheduler) isBetter(metric float64) bool {
	if s.Mode == "min" {
		return metric < s.bestMetric*(1-s.Threshold)
	}
	return metric > s.bestMetric*(1+s.Threshold)
}

// Step checks if LR should be reduced based on metric
// This is called once per epoch with the validation metric
func (s *ReduceLROnPlateauScheduler) Step(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = math.Inf(1)
		if s.Mode == "max" {
			s.bestMetric = math.Inf(-1)
		}
		s.initialized = true
	}
	s.currentLR = currentLR

	if s.isBetter(metric) {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
	}

	if s.badEpochs > s.Patience {
		newLR := math.Max(s.currentLR*s.Factor, s.MinLR)
		if s.currentLR-newLR > plateauEps {
			s.currentLR = newLR
		}
		s.badEpochs = 0
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	// For plateau scheduler, we return the internally tracked LR
	// The actual reduction happens in Step() based on metrics
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

// NoOpScheduler maintains constant learning rate (default behavior)
type NoOpScheduler struct{}

func (s *NoOpScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *NoOpScheduler) GetName() string {
	return "ConstantLR"
}
