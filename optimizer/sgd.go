package optimizer

import (
	"github.com/tsawler/go-mmsa/tensor"
)

// SGDOptimizerState holds SGD hyperparameters and momentum buffers
type SGDOptimizerState struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool

	MomentumBuffers buffers

	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGDOptimizer creates a new SGD optimizer
func NewSGDOptimizer(config SGDConfig) *SGDOptimizerState {
	return &SGDOptimizerState{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
	}
}

// Step performs a single SGD update. With momentum the buffer follows
// buf = momentum*buf + grad, as torch.optim.SGD does.
func (sgd *SGDOptimizerState) Step(params []*tensor.Parameter) error {
	if sgd.Momentum > 0 {
		if err := sgd.MomentumBuffers.ensure(sizesOf(params)); err != nil {
			return err
		}
	}
	sgd.StepCount++

	for i, p := range params {
		if p.Frozen {
			continue
		}
		for j, g := range p.Grad {
			w := p.Value.Data[j]
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * w
			}
			if sgd.Momentum > 0 {
				buf := sgd.MomentumBuffers[i]
				if sgd.StepCount == 1 {
					buf[j] = g
				} else {
					buf[j] = sgd.Momentum*buf[j] + g
				}
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}
			p.Value.Data[j] = w - sgd.LearningRate*g
		}
	}
	return nil
}

func (sgd *SGDOptimizerState) ZeroGrad(params []*tensor.Parameter) {
	zeroGrad(params)
}

// UpdateLearningRate updates the learning rate for the optimizer
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}

func (sgd *SGDOptimizerState) GetLearningRate() float64 {
	return sgd.LearningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      boolParam(sgd.Nesterov),
			"step_count":    float64(sgd.StepCount),
		},
		StateData: extractBufferState(sgd.MomentumBuffers, "momentum", "momentum"),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	// Validate state type
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	momentum, err := restoreBufferState(state.StateData, "momentum")
	if err != nil {
		return err
	}

	// Restore hyperparameters
	sgd.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat64Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)
	sgd.MomentumBuffers = momentum
	return nil
}
