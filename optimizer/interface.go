package optimizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tsawler/go-mmsa/checkpoints"
	"github.com/tsawler/go-mmsa/tensor"
)

// ErrParamCount is returned when Step receives a different parameter list
// than the one the optimizer state was built for.
var ErrParamCount = errors.New("parameter count changed between steps")

// Optimizer defines the common interface for all optimizers.
// State buffers are indexed by parameter position, so Step must always be
// given the parameters in the same order.
type Optimizer interface {
	// Step applies one update from the accumulated gradients. Frozen
	// parameters are left untouched.
	Step(params []*tensor.Parameter) error

	// ZeroGrad clears the gradients of params
	ZeroGrad(params []*tensor.Parameter)

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	GetLearningRate() float64
	UpdateLearningRate(lr float64)
}

// OptimizerState is the serialized form shared with checkpoints.
type OptimizerState = checkpoints.OptimizerState

// Config selects and parameterizes an optimizer.
type Config struct {
	Name         string  `toml:"name" env:"NAME"`
	LearningRate float64 `toml:"learning_rate" env:"LEARNING_RATE"`
	WeightDecay  float64 `toml:"weight_decay" env:"WEIGHT_DECAY"`
	Momentum     float64 `toml:"momentum" env:"MOMENTUM"`
}

// Names lists the supported optimizer names.
var Names = []string{"adam", "sgd", "rmsprop", "adagrad", "nadam"}

// New builds the optimizer named in cfg. Unset hyperparameters fall back to
// the optimizer's defaults.
func New(cfg Config) (Optimizer, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "adam":
		c := DefaultAdamConfig()
		applyCommon(&c.LearningRate, &c.WeightDecay, cfg)
		return NewAdamOptimizer(c), nil
	case "sgd":
		c := DefaultSGDConfig()
		applyCommon(&c.LearningRate, &c.WeightDecay, cfg)
		if cfg.Momentum > 0 {
			c.Momentum = cfg.Momentum
		}
		return NewSGDOptimizer(c), nil
	case "rmsprop":
		c := DefaultRMSPropConfig()
		applyCommon(&c.LearningRate, &c.WeightDecay, cfg)
		if cfg.Momentum > 0 {
			c.Momentum = cfg.Momentum
		}
		return NewRMSPropOptimizer(c), nil
	case "adagrad":
		c := DefaultAdaGradConfig()
		applyCommon(&c.LearningRate, &c.WeightDecay, cfg)
		return NewAdaGradOptimizer(c), nil
	case "nadam":
		c := DefaultNadamConfig()
		applyCommon(&c.LearningRate, &c.WeightDecay, cfg)
		return NewNadamOptimizer(c), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (supported: %s)", cfg.Name, strings.Join(Names, ", "))
	}
}

func applyCommon(lr, wd *float64, cfg Config) {
	if cfg.LearningRate > 0 {
		*lr = cfg.LearningRate
	}
	if cfg.WeightDecay > 0 {
		*wd = cfg.WeightDecay
	}
}

// ClipGradValue clamps every gradient element of params to [-clip, clip].
// A negative clip disables clipping.
func ClipGradValue(params []*tensor.Parameter, clip float64) {
	if clip < 0 {
		return
	}
	for _, p := range params {
		for i, g := range p.Grad {
			if g > clip {
				p.Grad[i] = clip
			} else if g < -clip {
				p.Grad[i] = -clip
			}
		}
	}
}

func zeroGrad(params []*tensor.Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Common helper functions for state extraction

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0", "variance_1", "squared_grad_avg_0"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := strings.LastIndexByte(name, '_')
	if lastUnderscoreIdx == -1 {
		return -1
	}
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("nil optimizer state")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
