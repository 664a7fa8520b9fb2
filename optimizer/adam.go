package optimizer

import (
	"math"

	"github.com/tsawler/go-mmsa/tensor"
)

// AdamOptimizerState holds Adam hyperparameters and moment buffers
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	MomentumBuffers buffers // First moment for each parameter
	VarianceBuffers buffers // Second moment for each parameter

	// Step tracking for bias correction
	StepCount uint64
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates a new Adam optimizer. Moment buffers are
// allocated on the first Step.
func NewAdamOptimizer(config AdamConfig) *AdamOptimizerState {
	return &AdamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}
}

// Step performs a single Adam update with bias correction
func (adam *AdamOptimizerState) Step(params []*tensor.Parameter) error {
	sizes := sizesOf(params)
	if err := adam.MomentumBuffers.ensure(sizes); err != nil {
		return err
	}
	if err := adam.VarianceBuffers.ensure(sizes); err != nil {
		return err
	}

	adam.StepCount++
	t := float64(adam.StepCount)
	bc1 := 1 - math.Pow(adam.Beta1, t)
	bc2 := 1 - math.Pow(adam.Beta2, t)

	for i, p := range params {
		if p.Frozen {
			continue
		}
		m, v := adam.MomentumBuffers[i], adam.VarianceBuffers[i]
		for j, g := range p.Grad {
			w := p.Value.Data[j]
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * w
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Value.Data[j] = w - adam.LearningRate*mHat/(math.Sqrt(vHat)+adam.Epsilon)
		}
	}
	return nil
}

func (adam *AdamOptimizerState) ZeroGrad(params []*tensor.Parameter) {
	zeroGrad(params)
}

// UpdateLearningRate updates the learning rate for the optimizer
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float64) {
	adam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float64 {
	return adam.LearningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := extractBufferState(adam.MomentumBuffers, "momentum", "momentum")
	stateData = append(stateData, extractBufferState(adam.VarianceBuffers, "variance", "variance")...)

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	momentum, err := restoreBufferState(state.StateData, "momentum")
	if err != nil {
		return err
	}
	variance, err := restoreBufferState(state.StateData, "variance")
	if err != nil {
		return err
	}

	adam.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat64Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat64Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)
	adam.MomentumBuffers = momentum
	adam.VarianceBuffers = variance
	return nil
}
