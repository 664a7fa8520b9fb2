package optimizer

import (
	"math"

	"github.com/tsawler/go-mmsa/tensor"
)

// AdaGradOptimizerState holds AdaGrad hyperparameters and the running sum
// of squared gradients.
type AdaGradOptimizerState struct {
	LearningRate float64
	Epsilon      float64
	WeightDecay  float64

	SquaredGradAvgBuffers buffers

	StepCount uint64
}

// AdaGradConfig holds configuration for AdaGrad optimizer
type AdaGradConfig struct {
	LearningRate float64 // Learning rate
	Epsilon      float64 // Small constant for numerical stability
	WeightDecay  float64 // L2 regularization strength
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() AdaGradConfig {
	return AdaGradConfig{
		LearningRate: 0.01,
		Epsilon:      1e-10,
		WeightDecay:  0.0,
	}
}

func NewAdaGradOptimizer(config AdaGradConfig) *AdaGradOptimizerState {
	return &AdaGradOptimizerState{
		LearningRate: config.LearningRate,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
	}
}

// Step performs a single AdaGrad update: G += g², w -= lr * g / (sqrt(G) + eps)
func (ada *AdaGradOptimizerState) Step(params []*tensor.Parameter) error {
	if err := ada.SquaredGradAvgBuffers.ensure(sizesOf(params)); err != nil {
		return err
	}
	ada.StepCount++

	for i, p := range params {
		if p.Frozen {
			continue
		}
		acc := ada.SquaredGradAvgBuffers[i]
		for j, g := range p.Grad {
			w := p.Value.Data[j]
			if ada.WeightDecay != 0 {
				g += ada.WeightDecay * w
			}
			acc[j] += g * g
			p.Value.Data[j] = w - ada.LearningRate*g/(math.Sqrt(acc[j])+ada.Epsilon)
		}
	}
	return nil
}

func (ada *AdaGradOptimizerState) ZeroGrad(params []*tensor.Parameter) {
	zeroGrad(params)
}

func (ada *AdaGradOptimizerState) UpdateLearningRate(newLR float64) {
	ada.LearningRate = newLR
}

func (ada *AdaGradOptimizerState) GetLearningRate() float64 {
	return ada.LearningRate
}

func (ada *AdaGradOptimizerState) GetStepCount() uint64 {
	return ada.StepCount
}

// GetState extracts optimizer state for checkpointing
func (ada *AdaGradOptimizerState) GetState() (*OptimizerState, error) {
	return &OptimizerState{
		Type: "AdaGrad",
		Parameters: map[string]float64{
			"learning_rate": ada.LearningRate,
			"epsilon":       ada.Epsilon,
			"weight_decay":  ada.WeightDecay,
			"step_count":    float64(ada.StepCount),
		},
		StateData: extractBufferState(ada.SquaredGradAvgBuffers, "squared_grad_avg", "squared_grad_avg"),
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (ada *AdaGradOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdaGrad", state); err != nil {
		return err
	}
	acc, err := restoreBufferState(state.StateData, "squared_grad_avg")
	if err != nil {
		return err
	}

	ada.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", ada.LearningRate)
	ada.Epsilon = extractFloat64Param(state.Parameters, "epsilon", ada.Epsilon)
	ada.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", ada.WeightDecay)
	ada.StepCount = extractUint64Param(state.Parameters, "step_count", ada.StepCount)
	ada.SquaredGradAvgBuffers = acc
	return nil
}
