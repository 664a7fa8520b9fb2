package training

import (
	"errors"
	"math"
	"testing"
)

// TestNewConfusionMatrix tests confusion matrix creation
func TestNewConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(3)

	if cm.NumClasses != 3 {
		t.Errorf("Expected 3 classes, got %d", cm.NumClasses)
	}
	if len(cm.Matrix) != 3 {
		t.Errorf("Expected matrix with 3 rows, got %d", len(cm.Matrix))
	}
	for i, row := range cm.Matrix {
		if len(row) != 3 {
			t.Errorf("Row %d: expected 3 columns, got %d", i, len(row))
		}
	}
	if cm.TotalSamples != 0 {
		t.Errorf("Expected 0 total samples, got %d", cm.TotalSamples)
	}
}

// TestConfusionMatrixUpdateFromPredictions tests updating from class scores
func TestConfusionMatrixUpdateFromPredictions(t *testing.T) {
	cm := NewConfusionMatrix(3)
	predictions := [][]float64{
		{0.1, 0.7, 0.2}, // class 1
		{0.8, 0.1, 0.1}, // class 0
		{0.2, 0.2, 0.6}, // class 2
		{0.5, 0.5, 0.0}, // tie resolves to class 0
	}
	labels := []int{1, 0, 1, 7}

	if err := cm.UpdateFromPredictions(predictions, labels); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cm.Matrix[1][1] != 1 || cm.Matrix[0][0] != 1 || cm.Matrix[1][2] != 1 {
		t.Errorf("Unexpected matrix: %v", cm.Matrix)
	}
	if cm.TotalSamples != 3 {
		t.Errorf("Out-of-range label should be skipped, got %d samples", cm.TotalSamples)
	}

	if err := cm.UpdateFromPredictions(predictions, labels[:2]); err == nil {
		t.Error("Expected error for label count mismatch")
	}
	if err := cm.UpdateFromPredictions([][]float64{{1, 2}}, []int{0}); err == nil {
		t.Error("Expected error for class count mismatch")
	}
}

func TestWeightedF1Binary(t *testing.T) {
	cm := NewConfusionMatrix(2)

	// Matrix[0][0] = 50 (TN), Matrix[0][1] = 10 (FP)
	// Matrix[1][0] = 5 (FN),  Matrix[1][1] = 35 (TP)
	cm.Matrix[0][0] = 50
	cm.Matrix[0][1] = 10
	cm.Matrix[1][0] = 5
	cm.Matrix[1][1] = 35
	cm.TotalSamples = 100

	// Negative class: P = 50/55, R = 50/60; positive: P = 35/45, R = 35/40
	f1Neg := 2 * (50.0 / 55) * (50.0 / 60) / (50.0/55 + 50.0/60)
	f1Pos := 2 * (35.0 / 45) * (35.0 / 40) / (35.0/45 + 35.0/40)
	expectedWeighted := (60*f1Neg + 40*f1Pos) / 100
	if w := cm.WeightedF1(); math.Abs(w-expectedWeighted) > 1e-9 {
		t.Errorf("WeightedF1: expected %f, got %f", expectedWeighted, w)
	}
}

func TestWeightedF1MultiClass(t *testing.T) {
	cm := NewConfusionMatrix(3)

	cm.Matrix[0][0] = 10 // Class 0 correctly classified
	cm.Matrix[0][1] = 2  // Class 0 misclassified as 1
	cm.Matrix[0][2] = 1  // Class 0 misclassified as 2
	cm.Matrix[1][0] = 3  // Class 1 misclassified as 0
	cm.Matrix[1][1] = 15 // Class 1 correctly classified
	cm.Matrix[1][2] = 2  // Class 1 misclassified as 2
	cm.Matrix[2][0] = 1  // Class 2 misclassified as 0
	cm.Matrix[2][1] = 1  // Class 2 misclassified as 1
	cm.Matrix[2][2] = 8  // Class 2 correctly classified
	cm.TotalSamples = 43

	// Precision per class: 10/14, 15/18, 8/11. Recall: 10/13, 15/20, 8/10.
	f1 := func(p, r float64) float64 { return 2 * p * r / (p + r) }
	expectedWeighted := (13*f1(10.0/14, 10.0/13) + 20*f1(15.0/18, 15.0/20) + 10*f1(8.0/11, 8.0/10)) / 43
	if got := cm.WeightedF1(); math.Abs(got-expectedWeighted) > 1e-9 {
		t.Errorf("WeightedF1: expected %f, got %f", expectedWeighted, got)
	}

	// A class that is never predicted scores zero but keeps its weight.
	never := NewConfusionMatrix(2)
	never.Add(0, 0)
	never.Add(1, 0)
	if got, want := never.WeightedF1(), 0.5*(2.0/3.0); math.Abs(got-want) > 1e-9 {
		t.Errorf("WeightedF1 with an unpredicted class: expected %f, got %f", want, got)
	}
}

// TestGetAccuracy tests accuracy calculation
func TestGetAccuracy(t *testing.T) {
	t.Run("WithSamples", func(t *testing.T) {
		cm := NewConfusionMatrix(3)
		cm.Matrix[0][0] = 10
		cm.Matrix[1][1] = 15
		cm.Matrix[2][2] = 8
		cm.Matrix[0][1] = 2
		cm.Matrix[1][2] = 3
		cm.TotalSamples = 38

		expectedAccuracy := (10.0 + 15.0 + 8.0) / 38.0
		if accuracy := cm.GetAccuracy(); math.Abs(accuracy-expectedAccuracy) > 1e-6 {
			t.Errorf("Expected accuracy %f, got %f", expectedAccuracy, accuracy)
		}
	})

	t.Run("NoSamples", func(t *testing.T) {
		cm := NewConfusionMatrix(2)
		if accuracy := cm.GetAccuracy(); accuracy != 0.0 {
			t.Errorf("Expected 0.0 accuracy for no samples, got %f", accuracy)
		}
		if f1 := cm.WeightedF1(); f1 != 0.0 {
			t.Errorf("Expected 0.0 weighted F1 for no samples, got %f", f1)
		}
	})
}

func TestCalculateRegressionMetrics(t *testing.T) {
	preds := []float64{1, 2, 3, 4}
	truth := []float64{1.5, 2, 2.5, 5}
	m := CalculateRegressionMetrics(preds, truth)

	if math.Abs(m.MAE-0.5) > 1e-12 {
		t.Errorf("MAE: expected 0.5, got %f", m.MAE)
	}
	if m.Corr <= 0.9 || m.Corr > 1 {
		t.Errorf("Corr: expected strong positive correlation, got %f", m.Corr)
	}

	constant := CalculateRegressionMetrics([]float64{1, 1, 1}, []float64{0, 1, 2})
	if constant.Corr != 0 {
		t.Errorf("Corr with constant predictions should be 0, got %f", constant.Corr)
	}
	if empty := CalculateRegressionMetrics(nil, nil); empty.MAE != 0 {
		t.Errorf("Expected zero metrics for empty input, got %+v", empty)
	}
}

func column(xs ...float64) [][]float64 {
	out := make([][]float64, len(xs))
	for i, v := range xs {
		out[i] = []float64{v}
	}
	return out
}

func assertResults(t *testing.T, got, want Results) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("Expected keys %v, got %v", want.Keys(), got.Keys())
	}
	for k, v := range want {
		g, ok := got[k]
		if !ok {
			t.Errorf("Missing metric %s", k)
			continue
		}
		if math.Abs(g-v) > 1e-9 {
			t.Errorf("%s: expected %v, got %v", k, v, g)
		}
	}
}

func TestMOSIRegressionMetrics(t *testing.T) {
	provider, err := NewMetrics(ModeRegression, "mosi")
	if err != nil {
		t.Fatal(err)
	}
	got, err := provider.Compute(column(2.4, -0.6, 0.2, -1.4, 0.0), []float64{3.0, -1.0, 0.0, -2.2, 0.4})
	if err != nil {
		t.Fatal(err)
	}
	assertResults(t, got, Results{
		"Has0_acc_2":    1,
		"Has0_F1_score": 1,
		"Non0_acc_2":    0.75,
		"Non0_F1_score": 0.7333,
		"Mult_acc_5":    0.8,
		"Mult_acc_7":    0.6,
		"MAE":           0.48,
		"Corr":          0.9883,
	})
}

func TestSIMSRegressionMetrics(t *testing.T) {
	provider, err := NewMetrics(ModeRegression, "SIMS")
	if err != nil {
		t.Fatal(err)
	}
	got, err := provider.Compute(column(0.9, -0.5, 0.05, -0.05, 1.5), []float64{0.8, -0.8, 0.2, -0.2, 1.0})
	if err != nil {
		t.Fatal(err)
	}
	assertResults(t, got, Results{
		"Mult_acc_2": 1,
		"Mult_acc_3": 0.6,
		"Mult_acc_5": 0.4,
		"F1_score":   1,
		"MAE":        0.14,
		"Corr":       0.9784,
	})
}

func TestClassificationMetrics(t *testing.T) {
	provider, err := NewMetrics(ModeClassification, "mosi")
	if err != nil {
		t.Fatal(err)
	}
	logits := [][]float64{
		{2, 0, 0},
		{0, 3, 0},
		{0, 0, 1},
		{1, 0, 2},
		{0, 1, 0.5},
	}
	got, err := provider.Compute(logits, []float64{0, 1, 2, 0, 2})
	if err != nil {
		t.Fatal(err)
	}
	assertResults(t, got, Results{
		"Has0_acc_2":    0.8,
		"Has0_F1_score": 0.8,
		"Non0_acc_2":    0.75,
		"Non0_F1_score": 0.7333,
		"Acc_3":         0.6,
		"F1_score_3":    0.6,
	})

	binary, err := provider.Compute([][]float64{{1, 0}, {0, 1}, {1, 0}}, []float64{0, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := binary["Acc_2"]; !ok {
		t.Errorf("Expected Acc_2 for two classes, got %v", binary.Keys())
	}
	if _, ok := binary["F1_score_2"]; !ok {
		t.Errorf("Expected F1_score_2 for two classes, got %v", binary.Keys())
	}
}

func TestMetricsInputErrors(t *testing.T) {
	if _, err := NewMetrics("ranking", "mosi"); !errors.Is(err, ErrTrainMode) {
		t.Errorf("Expected ErrTrainMode, got %v", err)
	}

	regression, _ := NewMetrics(ModeRegression, "mosei")
	if _, err := regression.Compute(nil, nil); !errors.Is(err, ErrMetricsInput) {
		t.Errorf("Expected ErrMetricsInput for empty input, got %v", err)
	}
	if _, err := regression.Compute(column(1, 2), []float64{1}); !errors.Is(err, ErrMetricsInput) {
		t.Errorf("Expected ErrMetricsInput for length mismatch, got %v", err)
	}

	classification, _ := NewMetrics(ModeClassification, "mosi")
	if _, err := classification.Compute(column(1), []float64{0}); !errors.Is(err, ErrMetricsInput) {
		t.Errorf("Expected ErrMetricsInput for single output, got %v", err)
	}
}

func TestResultsString(t *testing.T) {
	r := Results{"MAE": 0.71234, "Corr": 0.5, "Has0_acc_2": 0.8}
	want := "Corr: 0.5000 Has0_acc_2: 0.8000 MAE: 0.7123"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	c := r.Clone()
	c["MAE"] = 0
	if r["MAE"] == 0 {
		t.Error("Clone must not share the map")
	}
}
