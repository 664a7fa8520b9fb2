package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-mmsa/tensor"
)

func quadParams() []*tensor.Parameter {
	a := tensor.NewParameter("a", 3)
	b := tensor.NewParameter("b", 2)
	copy(a.Value.Data, []float64{1, -2, 3})
	copy(b.Value.Data, []float64{0.5, -0.5})
	return []*tensor.Parameter{a, b}
}

// loss = 0.5 * sum(w^2), so grad = w
func quadGrad(params []*tensor.Parameter) float64 {
	loss := 0.0
	for _, p := range params {
		for i, w := range p.Value.Data {
			p.Grad[i] = w
			loss += 0.5 * w * w
		}
	}
	return loss
}

func TestOptimizersDecreaseLoss(t *testing.T) {
	cases := []struct {
		name string
		opt  Optimizer
	}{
		{"adam", NewAdamOptimizer(AdamConfig{LearningRate: 0.05, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})},
		{"sgd", NewSGDOptimizer(SGDConfig{LearningRate: 0.1})},
		{"sgd momentum", NewSGDOptimizer(SGDConfig{LearningRate: 0.05, Momentum: 0.9})},
		{"sgd nesterov", NewSGDOptimizer(SGDConfig{LearningRate: 0.05, Momentum: 0.9, Nesterov: true})},
		{"rmsprop", NewRMSPropOptimizer(DefaultRMSPropConfig())},
		{"rmsprop centered momentum", NewRMSPropOptimizer(RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8, Momentum: 0.5, Centered: true})},
		{"adagrad", NewAdaGradOptimizer(DefaultAdaGradConfig())},
		{"adagrad weight decay", NewAdaGradOptimizer(AdaGradConfig{LearningRate: 0.05, Epsilon: 1e-10, WeightDecay: 0.01})},
		{"nadam", NewNadamOptimizer(DefaultNadamConfig())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := quadParams()
			first := quadGrad(params)
			for i := 0; i < 50; i++ {
				quadGrad(params)
				if err := tc.opt.Step(params); err != nil {
					t.Fatalf("Step %d failed: %v", i, err)
				}
				tc.opt.ZeroGrad(params)
			}
			last := quadGrad(params)
			if last >= first {
				t.Errorf("Expected loss to decrease: first %f, last %f", first, last)
			}
			if tc.opt.GetStepCount() != 50 {
				t.Errorf("Expected 50 steps, got %d", tc.opt.GetStepCount())
			}
		})
	}
}

func TestAdamFirstStepMagnitude(t *testing.T) {
	// With bias correction the first Adam step moves each weight by ~lr.
	params := quadParams()
	before := append([]float64(nil), params[0].Value.Data...)
	quadGrad(params)

	adam := NewAdamOptimizer(AdamConfig{LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
	if err := adam.Step(params); err != nil {
		t.Fatal(err)
	}
	for i, w := range params[0].Value.Data {
		if d := math.Abs(before[i] - w); math.Abs(d-0.01) > 1e-6 {
			t.Errorf("Weight %d moved by %g, expected 0.01", i, d)
		}
	}
}

func TestAdaGradFirstStepMagnitude(t *testing.T) {
	// After one step the accumulator is g², so every weight moves by lr.
	params := quadParams()
	before := append([]float64(nil), params[0].Value.Data...)
	quadGrad(params)

	ada := NewAdaGradOptimizer(AdaGradConfig{LearningRate: 0.1, Epsilon: 1e-10})
	if err := ada.Step(params); err != nil {
		t.Fatal(err)
	}
	for i, w := range params[0].Value.Data {
		if d := math.Abs(before[i] - w); math.Abs(d-0.1) > 1e-6 {
			t.Errorf("Weight %d moved by %g, expected 0.1", i, d)
		}
	}
}

func TestFrozenParametersAreSkipped(t *testing.T) {
	params := quadParams()
	params[1].Frozen = true
	quadGrad(params)

	sgd := NewSGDOptimizer(SGDConfig{LearningRate: 0.1})
	if err := sgd.Step(params); err != nil {
		t.Fatal(err)
	}
	if params[1].Value.Data[0] != 0.5 {
		t.Errorf("Frozen parameter changed to %v", params[1].Value.Data)
	}
	if params[0].Value.Data[0] != 0.9 {
		t.Errorf("Expected 1 - 0.1*1 = 0.9, got %v", params[0].Value.Data[0])
	}
}

func TestStepRejectsChangedParameters(t *testing.T) {
	params := quadParams()
	adam := NewAdamOptimizer(DefaultAdamConfig())
	if err := adam.Step(params); err != nil {
		t.Fatal(err)
	}
	if err := adam.Step(params[:1]); !errors.Is(err, ErrParamCount) {
		t.Errorf("Expected ErrParamCount, got %v", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		make  func() Optimizer
		other Optimizer
	}{
		{"adam", func() Optimizer { return NewAdamOptimizer(DefaultAdamConfig()) }, NewSGDOptimizer(DefaultSGDConfig())},
		{"sgd", func() Optimizer { return NewSGDOptimizer(SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}) }, NewAdamOptimizer(DefaultAdamConfig())},
		{"rmsprop", func() Optimizer {
			return NewRMSPropOptimizer(RMSPropConfig{LearningRate: 0.01, Alpha: 0.9, Epsilon: 1e-8, Momentum: 0.3, Centered: true})
		}, NewAdamOptimizer(DefaultAdamConfig())},
		{"adagrad", func() Optimizer { return NewAdaGradOptimizer(DefaultAdaGradConfig()) }, NewRMSPropOptimizer(DefaultRMSPropConfig())},
		{"nadam", func() Optimizer { return NewNadamOptimizer(DefaultNadamConfig()) }, NewAdamOptimizer(DefaultAdamConfig())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Two optimizers stepping the same trajectory must agree after a
			// state transfer.
			p1, p2 := quadParams(), quadParams()
			o1 := tc.make()
			for i := 0; i < 3; i++ {
				quadGrad(p1)
				if err := o1.Step(p1); err != nil {
					t.Fatal(err)
				}
			}
			state, err := o1.GetState()
			if err != nil {
				t.Fatal(err)
			}
			for i := range p1 {
				copy(p2[i].Value.Data, p1[i].Value.Data)
			}

			o2 := tc.make()
			o2.UpdateLearningRate(123)
			if err := o2.LoadState(state); err != nil {
				t.Fatalf("LoadState failed: %v", err)
			}
			if o2.GetStepCount() != 3 {
				t.Errorf("Expected step count 3, got %d", o2.GetStepCount())
			}
			if o2.GetLearningRate() != o1.GetLearningRate() {
				t.Errorf("Learning rate not restored: %v", o2.GetLearningRate())
			}

			quadGrad(p1)
			quadGrad(p2)
			if err := o1.Step(p1); err != nil {
				t.Fatal(err)
			}
			if err := o2.Step(p2); err != nil {
				t.Fatal(err)
			}
			for i := range p1 {
				for j := range p1[i].Value.Data {
					if math.Abs(p1[i].Value.Data[j]-p2[i].Value.Data[j]) > 1e-12 {
						t.Errorf("%s[%d] diverged: %v vs %v", p1[i].Name, j, p1[i].Value.Data[j], p2[i].Value.Data[j])
					}
				}
			}

			if err := tc.other.LoadState(state); err == nil {
				t.Error("Expected state type mismatch error")
			}
		})
	}
}

func TestNew(t *testing.T) {
	opt, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opt.(*AdamOptimizerState); !ok {
		t.Errorf("Expected Adam by default, got %T", opt)
	}
	if opt.GetLearningRate() != 0.001 {
		t.Errorf("Expected default lr 0.001, got %v", opt.GetLearningRate())
	}

	opt, err = New(Config{Name: "SGD", LearningRate: 0.5, Momentum: 0.8})
	if err != nil {
		t.Fatal(err)
	}
	sgd, ok := opt.(*SGDOptimizerState)
	if !ok || sgd.LearningRate != 0.5 || sgd.Momentum != 0.8 {
		t.Errorf("Unexpected SGD optimizer: %+v", opt)
	}

	if _, err := New(Config{Name: "rmsprop", WeightDecay: 0.01}); err != nil {
		t.Error(err)
	}
	opt, err = New(Config{Name: "nadam"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.GetLearningRate() != 0.002 {
		t.Errorf("Expected Nadam default lr 0.002, got %v", opt.GetLearningRate())
	}
	opt, err = New(Config{Name: "adagrad", LearningRate: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := opt.(*AdaGradOptimizerState); !ok || opt.GetLearningRate() != 0.2 {
		t.Errorf("Unexpected AdaGrad optimizer: %+v", opt)
	}
	if _, err := New(Config{Name: "lbfgs"}); err == nil {
		t.Error("Expected error for unknown optimizer")
	}
}

func TestClipGradValue(t *testing.T) {
	p := tensor.NewParameter("p", 4)
	copy(p.Grad, []float64{-3, -0.5, 0.2, 7})

	ClipGradValue([]*tensor.Parameter{p}, -1)
	if p.Grad[3] != 7 {
		t.Errorf("Negative clip must disable clipping, got %v", p.Grad)
	}

	ClipGradValue([]*tensor.Parameter{p}, 1)
	want := []float64{-1, -0.5, 0.2, 1}
	for i := range want {
		if p.Grad[i] != want[i] {
			t.Errorf("Grad[%d] = %v, want %v", i, p.Grad[i], want[i])
		}
	}
}

func TestExtractBufferIndex(t *testing.T) {
	cases := map[string]int{
		"momentum_0":          0,
		"squared_grad_avg_12": 12,
		"variance":            -1,
		"momentum_x":          -1,
	}
	for name, want := range cases {
		if got := extractBufferIndex(name); got != want {
			t.Errorf("extractBufferIndex(%q) = %d, want %d", name, got, want)
		}
	}
}
