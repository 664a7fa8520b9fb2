package optimizer

import (
	"math"

	"github.com/tsawler/go-mmsa/tensor"
)

// NadamOptimizerState holds Nadam hyperparameters and moment buffers.
// Nadam combines Adam's adaptive learning rates with Nesterov momentum
type NadamOptimizerState struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	MomentumBuffers buffers
	VarianceBuffers buffers

	StepCount uint64
}

// NadamConfig holds configuration for Nadam optimizer
type NadamConfig struct {
	LearningRate float64 // Base learning rate (typically 0.002)
	Beta1        float64 // Exponential decay rate for first moment estimates (typically 0.9)
	Beta2        float64 // Exponential decay rate for second moment estimates (typically 0.999)
	Epsilon      float64 // Small constant for numerical stability (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient (typically 0.0)
}

// DefaultNadamConfig returns default Nadam optimizer configuration
func DefaultNadamConfig() NadamConfig {
	return NadamConfig{
		LearningRate: 0.002, // Nadam typically uses slightly higher LR than Adam
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

func NewNadamOptimizer(config NadamConfig) *NadamOptimizerState {
	return &NadamOptimizerState{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}
}

// Step performs a single Nadam update. The first moment is looked ahead
// one step: m̂' = β1·m̂ + (1-β1)·g/(1-β1^t).
func (nadam *NadamOptimizerState) Step(params []*tensor.Parameter) error {
	sizes := sizesOf(params)
	if err := nadam.MomentumBuffers.ensure(sizes); err != nil {
		return err
	}
	if err := nadam.VarianceBuffers.ensure(sizes); err != nil {
		return err
	}

	nadam.StepCount++
	t := float64(nadam.StepCount)
	bc1 := 1 - math.Pow(nadam.Beta1, t)
	bc2 := 1 - math.Pow(nadam.Beta2, t)

	for i, p := range params {
		if p.Frozen {
			continue
		}
		m, v := nadam.MomentumBuffers[i], nadam.VarianceBuffers[i]
		for j, g := range p.Grad {
			w := p.Value.Data[j]
			if nadam.WeightDecay != 0 {
				g += nadam.WeightDecay * w
			}
			m[j] = nadam.Beta1*m[j] + (1-nadam.Beta1)*g
			v[j] = nadam.Beta2*v[j] + (1-nadam.Beta2)*g*g
			mHat := nadam.Beta1*m[j]/bc1 + (1-nadam.Beta1)*g/bc1
			vHat := v[j] / bc2
			p.Value.Data[j] = w - nadam.LearningRate*mHat/(math.Sqrt(vHat)+nadam.Epsilon)
		}
	}
	return nil
}

func (nadam *NadamOptimizerState) ZeroGrad(params []*tensor.Parameter) {
	zeroGrad(params)
}

// UpdateLearningRate updates the learning rate for the optimizer
func (nadam *NadamOptimizerState) UpdateLearningRate(newLR float64) {
	nadam.LearningRate = newLR
}

// GetLearningRate returns the current learning rate
func (nadam *NadamOptimizerState) GetLearningRate() float64 {
	return nadam.LearningRate
}

// GetStepCount returns the current step count
func (nadam *NadamOptimizerState) GetStepCount() uint64 {
	return nadam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (nadam *NadamOptimizerState) GetState() (*OptimizerState, error) {
	stateData := extractBufferState(nadam.MomentumBuffers, "momentum", "momentum")
	stateData = append(stateData, extractBufferState(nadam.VarianceBuffers, "variance", "variance")...)

	return &OptimizerState{
		Type: "Nadam",
		Parameters: map[string]float64{
			"learning_rate": nadam.LearningRate,
			"beta1":         nadam.Beta1,
			"beta2":         nadam.Beta2,
			"epsilon":       nadam.Epsilon,
			"weight_decay":  nadam.WeightDecay,
			"step_count":    float64(nadam.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (nadam *NadamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Nadam", state); err != nil {
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

	nadam.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", nadam.LearningRate)
	nadam.Beta1 = extractFloat64Param(state.Parameters, "beta1", nadam.Beta1)
	nadam.Beta2 = extractFloat64Param(state.Parameters, "beta2", nadam.Beta2)
	nadam.Epsilon = extractFloat64Param(state.Parameters, "epsilon", nadam.Epsilon)
	nadam.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", nadam.WeightDecay)
	nadam.StepCount = extractUint64Param(state.Parameters, "step_count", nadam.StepCount)
	nadam.MomentumBuffers = momentum
	nadam.VarianceBuffers = variance
	return nil
}
