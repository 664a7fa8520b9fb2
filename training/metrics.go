package training

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ConfusionMatrix represents a confusion matrix for classification tasks
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Add records one sample. Out-of-range classes are skipped.
func (cm *ConfusionMatrix) Add(trueClass, predClass int) {
	if trueClass < 0 || trueClass >= cm.NumClasses || predClass < 0 || predClass >= cm.NumClasses {
		return
	}
	cm.Matrix[trueClass][predClass]++
	cm.TotalSamples++
}

// UpdateFromPredictions updates the confusion matrix from class scores,
// taking the argmax of each row as the predicted class.
func (cm *ConfusionMatrix) UpdateFromPredictions(predictions [][]float64, trueLabels []int) error {
	if len(predictions) != len(trueLabels) {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", len(predictions), len(trueLabels))
	}
	for i, row := range predictions {
		if len(row) != cm.NumClasses {
			return fmt.Errorf("class count mismatch: expected %d, got %d", cm.NumClasses, len(row))
		}
		cm.Add(trueLabels[i], argmax(row))
	}
	return nil
}

func (cm *ConfusionMatrix) classPrecision(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	predicted := 0.0
	for t := 0; t < cm.NumClasses; t++ {
		predicted += float64(cm.Matrix[t][class])
	}
	if predicted == 0 {
		return 0.0 // No positive predictions
	}
	return tp / predicted
}

func (cm *ConfusionMatrix) classRecall(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	support := float64(cm.support(class))
	if support == 0 {
		return 0.0 // No actual positives
	}
	return tp / support
}

func (cm *ConfusionMatrix) support(class int) int {
	n := 0
	for _, c := range cm.Matrix[class] {
		n += c
	}
	return n
}

// WeightedF1 averages per-class F1 weighted by each class's true support.
// Classes with no true samples contribute nothing.
func (cm *ConfusionMatrix) WeightedF1() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		s := cm.support(class)
		if s == 0 {
			continue
		}
		sum += float64(s) * harmonic(cm.classPrecision(class), cm.classRecall(class))
	}
	return sum / float64(cm.TotalSamples)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

func harmonic(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// RegressionMetrics holds regression evaluation metrics
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	Corr float64 // Pearson correlation, 0 when either side is constant
}

// CalculateRegressionMetrics computes regression metrics over paired values
func CalculateRegressionMetrics(predictions, trueValues []float64) *RegressionMetrics {
	n := len(predictions)
	if n == 0 || len(trueValues) != n {
		return &RegressionMetrics{}
	}

	meanPred, meanTrue := 0.0, 0.0
	for i := 0; i < n; i++ {
		meanPred += predictions[i]
		meanTrue += trueValues[i]
	}
	meanPred /= float64(n)
	meanTrue /= float64(n)

	sumAbsErr := 0.0
	cov, varPred, varTrue := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		pred, truth := predictions[i], trueValues[i]
		sumAbsErr += math.Abs(pred - truth)

		dp, dt := pred-meanPred, truth-meanTrue
		cov += dp * dt
		varPred += dp * dp
		varTrue += dt * dt
	}

	corr := 0.0
	if varPred > 0 && varTrue > 0 {
		corr = cov / math.Sqrt(varPred*varTrue)
	}
	return &RegressionMetrics{
		MAE:  sumAbsErr / float64(n),
		Corr: corr,
	}
}

// Results is a named set of evaluation metrics for one pass.
type Results map[string]float64

// Keys returns the metric names in sorted order.
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the results.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String renders "Key: value" pairs in key order with four decimals.
func (r Results) String() string {
	parts := make([]string, 0, len(r))
	for _, k := range r.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %.4f", k, r[k]))
	}
	return strings.Join(parts, " ")
}

// MetricsProvider computes evaluation metrics from a pass's predictions
// ([N, C]) and labels ([N]).
type MetricsProvider interface {
	Compute(predictions [][]float64, labels []float64) (Results, error)
}

// MetricsFunc adapts a function to MetricsProvider.
type MetricsFunc func(predictions [][]float64, labels []float64) (Results, error)

func (f MetricsFunc) Compute(predictions [][]float64, labels []float64) (Results, error) {
	return f(predictions, labels)
}

// Train modes.
const (
	ModeRegression     = "regression"
	ModeClassification = "classification"
)

// NewMetrics returns the metric set for a train mode and dataset.
func NewMetrics(trainMode, datasetName string) (MetricsProvider, error) {
	switch trainMode {
	case ModeRegression:
		switch strings.ToLower(datasetName) {
		case "sims":
			return MetricsFunc(simsRegressionMetrics), nil
		default:
			return MetricsFunc(mosiRegressionMetrics), nil
		}
	case ModeClassification:
		return MetricsFunc(classificationMetrics), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrTrainMode, trainMode)
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func firstColumn(predictions [][]float64) ([]float64, error) {
	out := make([]float64, len(predictions))
	for i, row := range predictions {
		if len(row) == 0 {
			return nil, fmt.Errorf("%w: empty prediction row %d", ErrMetricsInput, i)
		}
		out[i] = row[0]
	}
	return out, nil
}

func checkMetricsInput(predictions [][]float64, labels []float64) error {
	if len(predictions) == 0 {
		return fmt.Errorf("%w: no predictions", ErrMetricsInput)
	}
	if len(predictions) != len(labels) {
		return fmt.Errorf("%w: %d predictions, %d labels", ErrMetricsInput, len(predictions), len(labels))
	}
	return nil
}

func clip(xs []float64, lo, hi float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = math.Max(lo, math.Min(hi, v))
	}
	return out
}

// multiclassAcc compares values after rounding half to even.
func multiclassAcc(preds, truth []float64) float64 {
	correct := 0
	for i := range preds {
		if math.RoundToEven(preds[i]) == math.RoundToEven(truth[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}

// binaryScores returns accuracy and weighted F1 of thresholded values.
func binaryScores(preds, truth []float64, positive func(float64) bool) (acc, f1 float64) {
	cm := NewConfusionMatrix(2)
	for i := range preds {
		cm.Add(boolClass(positive(truth[i])), boolClass(positive(preds[i])))
	}
	return cm.GetAccuracy(), cm.WeightedF1()
}

func boolClass(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mosiRegressionMetrics(predictions [][]float64, labels []float64) (Results, error) {
	if err := checkMetricsInput(predictions, labels); err != nil {
		return nil, err
	}
	preds, err := firstColumn(predictions)
	if err != nil {
		return nil, err
	}
	reg := CalculateRegressionMetrics(preds, labels)

	var nzPreds, nzTruth []float64
	for i, v := range labels {
		if v != 0 {
			nzPreds = append(nzPreds, preds[i])
			nzTruth = append(nzTruth, v)
		}
	}
	positive := func(v float64) bool { return v > 0 }
	nonNegative := func(v float64) bool { return v >= 0 }

	non0Acc, non0F1 := 0.0, 0.0
	if len(nzPreds) > 0 {
		non0Acc, non0F1 = binaryScores(nzPreds, nzTruth, positive)
	}
	has0Acc, has0F1 := binaryScores(preds, labels, nonNegative)

	return Results{
		"Has0_acc_2":    round4(has0Acc),
		"Has0_F1_score": round4(has0F1),
		"Non0_acc_2":    round4(non0Acc),
		"Non0_F1_score": round4(non0F1),
		"Mult_acc_5":    round4(multiclassAcc(clip(preds, -2, 2), clip(labels, -2, 2))),
		"Mult_acc_7":    round4(multiclassAcc(clip(preds, -3, 3), clip(labels, -3, 3))),
		"MAE":           round4(reg.MAE),
		"Corr":          round4(reg.Corr),
	}, nil
}

// bucketize maps each value to the index of the interval (edges[i], edges[i+1]]
// containing it.
func bucketize(xs, edges []float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		for b := 0; b+1 < len(edges); b++ {
			if v > edges[b] && v <= edges[b+1] {
				out[i] = float64(b)
				break
			}
		}
	}
	return out
}

var (
	simsEdges2 = []float64{-1.01, 0.0, 1.01}
	simsEdges3 = []float64{-1.01, -0.1, 0.1, 1.01}
	simsEdges5 = []float64{-1.01, -0.7, -0.1, 0.1, 0.7, 1.01}
)

func simsRegressionMetrics(predictions [][]float64, labels []float64) (Results, error) {
	if err := checkMetricsInput(predictions, labels); err != nil {
		return nil, err
	}
	raw, err := firstColumn(predictions)
	if err != nil {
		return nil, err
	}
	preds := clip(raw, -1, 1)
	truth := clip(labels, -1, 1)
	reg := CalculateRegressionMetrics(preds, truth)

	p2, t2 := bucketize(preds, simsEdges2), bucketize(truth, simsEdges2)
	cm := NewConfusionMatrix(2)
	for i := range p2 {
		cm.Add(int(t2[i]), int(p2[i]))
	}

	return Results{
		"Mult_acc_2": round4(multiclassAcc(p2, t2)),
		"Mult_acc_3": round4(multiclassAcc(bucketize(preds, simsEdges3), bucketize(truth, simsEdges3))),
		"Mult_acc_5": round4(multiclassAcc(bucketize(preds, simsEdges5), bucketize(truth, simsEdges5))),
		"F1_score":   round4(cm.WeightedF1()),
		"MAE":        round4(reg.MAE),
		"Corr":       round4(reg.Corr),
	}, nil
}

// classificationMetrics scores class logits. With three classes (negative,
// neutral, positive) the binary Has0/Non0 views are reported as well.
func classificationMetrics(predictions [][]float64, labels []float64) (Results, error) {
	if err := checkMetricsInput(predictions, labels); err != nil {
		return nil, err
	}
	classes := len(predictions[0])
	if classes < 2 {
		return nil, fmt.Errorf("%w: classification needs at least 2 outputs, got %d", ErrMetricsInput, classes)
	}
	truth := make([]int, len(labels))
	for i, v := range labels {
		truth[i] = int(v)
	}

	cm := NewConfusionMatrix(classes)
	if err := cm.UpdateFromPredictions(predictions, truth); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsInput, err)
	}
	if classes != 3 {
		return Results{
			fmt.Sprintf("Acc_%d", classes):      round4(cm.GetAccuracy()),
			fmt.Sprintf("F1_score_%d", classes): round4(cm.WeightedF1()),
		}, nil
	}

	// Binary views compare the negative and positive logits only.
	has0 := NewConfusionMatrix(2)
	non0 := NewConfusionMatrix(2)
	for i, row := range predictions {
		pred := boolClass(row[2] > row[0])
		has0.Add(boolClass(truth[i] > 1), pred)
		if truth[i] != 1 {
			non0.Add(boolClass(truth[i] > 1), pred)
		}
	}

	return Results{
		"Has0_acc_2":    round4(has0.GetAccuracy()),
		"Has0_F1_score": round4(has0.WeightedF1()),
		"Non0_acc_2":    round4(non0.GetAccuracy()),
		"Non0_F1_score": round4(non0.WeightedF1()),
		"Acc_3":         round4(cm.GetAccuracy()),
		"F1_score_3":    round4(cm.WeightedF1()),
	}, nil
}

func argmax(row []float64) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}
