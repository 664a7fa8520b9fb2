package optimizer

import (
	"math"

	"github.com/tsawler/go-mmsa/tensor"
)

// RMSPropOptimizerState holds RMSProp hyperparameters and running averages
type RMSPropOptimizerState struct {
	LearningRate float64
	Alpha        float64 // Smoothing constant (typically 0.99)
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool

	SquaredGradAvgBuffers buffers // Running average of squared gradients
	MomentumBuffers       buffers // Only used when Momentum > 0
	GradientAvgBuffers    buffers // Only used when Centered

	StepCount uint64
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates a new RMSProp optimizer
func NewRMSPropOptimizer(config RMSPropConfig) *RMSPropOptimizerState {
	return &RMSPropOptimizerState{
		LearningRate: config.LearningRate,
		Alpha:        config.Alpha,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		Momentum:     config.Momentum,
		Centered:     config.Centered,
	}
}

// Step performs a single RMSProp update
func (rmsprop *RMSPropOptimizerState) Step(params []*tensor.Parameter) error {
	sizes := sizesOf(params)
	if err := rmsprop.SquaredGradAvgBuffers.ensure(sizes); err != nil {
		return err
	}
	if rmsprop.Momentum > 0 {
		if err := rmsprop.MomentumBuffers.ensure(sizes); err != nil {
			return err
		}
	}
	if rmsprop.Centered {
		if err := rmsprop.GradientAvgBuffers.ensure(sizes); err != nil {
			return err
		}
	}
	rmsprop.StepCount++

	for i, p := range params {
		if p.Frozen {
			continue
		}
		sq := rmsprop.SquaredGradAvgBuffers[i]
		for j, g := range p.Grad {
			w := p.Value.Data[j]
			if rmsprop.WeightDecay != 0 {
				g += rmsprop.WeightDecay * w
			}
			sq[j] = rmsprop.Alpha*sq[j] + (1-rmsprop.Alpha)*g*g
			avg := sq[j]
			if rmsprop.Centered {
				ga := rmsprop.GradientAvgBuffers[i]
				ga[j] = rmsprop.Alpha*ga[j] + (1-rmsprop.Alpha)*g
				avg -= ga[j] * ga[j]
			}
			denom := math.Sqrt(avg) + rmsprop.Epsilon
			if rmsprop.Momentum > 0 {
				buf := rmsprop.MomentumBuffers[i]
				buf[j] = rmsprop.Momentum*buf[j] + g/denom
				p.Value.Data[j] = w - rmsprop.LearningRate*buf[j]
			} else {
				p.Value.Data[j] = w - rmsprop.LearningRate*g/denom
			}
		}
	}
	return nil
}

func (rmsprop *RMSPropOptimizerState) ZeroGrad(params []*tensor.Parameter) {
	zeroGrad(params)
}

// UpdateLearningRate updates the learning rate for the optimizer
func (rmsprop *RMSPropOptimizerState) UpdateLearningRate(newLR float64) {
	rmsprop.LearningRate = newLR
}

func (rmsprop *RMSPropOptimizerState) GetLearningRate() float64 {
	return rmsprop.LearningRate
}

// GetStepCount returns the current step count
func (rmsprop *RMSPropOptimizerState) GetStepCount() uint64 {
	return rmsprop.StepCount
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSPropOptimizerState) GetState() (*OptimizerState, error) {
	stateData := extractBufferState(rmsprop.SquaredGradAvgBuffers, "squared_grad_avg", "squared_grad_avg")
	stateData = append(stateData, extractBufferState(rmsprop.MomentumBuffers, "momentum", "momentum")...)
	stateData = append(stateData, extractBufferState(rmsprop.GradientAvgBuffers, "gradient_avg", "gradient_avg")...)

	return &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]float64{
			"learning_rate": rmsprop.LearningRate,
			"alpha":         rmsprop.Alpha,
			"epsilon":       rmsprop.Epsilon,
			"weight_decay":  rmsprop.WeightDecay,
			"momentum":      rmsprop.Momentum,
			"centered":      boolParam(rmsprop.Centered),
			"step_count":    float64(rmsprop.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (rmsprop *RMSPropOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}
	sq, err := restoreBufferState(state.StateData, "squared_grad_avg")
	if err != nil {
		return err
	}
	momentum, err := restoreBufferState(state.StateData, "momentum")
	if err != nil {
		return err
	}
	gavg, err := restoreBufferState(state.StateData, "gradient_avg")
	if err != nil {
		return err
	}

	rmsprop.LearningRate = extractFloat64Param(state.Parameters, "learning_rate", rmsprop.LearningRate)
	rmsprop.Alpha = extractFloat64Param(state.Parameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloat64Param(state.Parameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloat64Param(state.Parameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.Momentum = extractFloat64Param(state.Parameters, "momentum", rmsprop.Momentum)
	rmsprop.Centered = extractBoolParam(state.Parameters, "centered", rmsprop.Centered)
	rmsprop.StepCount = extractUint64Param(state.Parameters, "step_count", rmsprop.StepCount)
	rmsprop.SquaredGradAvgBuffers = sq
	rmsprop.MomentumBuffers = momentum
	rmsprop.GradientAvgBuffers = gavg
	return nil
}
