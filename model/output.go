// Package model defines the model boundary consumed by the training loop and
// ships a small late-fusion reference model that honours it.
package model

import (
	"fmt"

	"github.com/tsawler/go-mmsa/modality"
)

// Feature names as they appear in per-sample evaluation results.
const (
	FeatureText   = "Feature_t"
	FeatureAudio  = "Feature_a"
	FeatureVision = "Feature_v"
	FeatureFusion = "Feature_f"
)

// FeatureNames lists the feature outputs in a fixed order.
var FeatureNames = []string{FeatureText, FeatureAudio, FeatureVision, FeatureFusion}

// Output is what a forward pass returns for one batch.
type Output struct {
	// M is the task prediction, [B, C].
	M [][]float64

	LossScoreL float64
	LossScoreV float64
	LossScoreA float64
	LossRec    float64

	FeatureT [][]float64
	FeatureA [][]float64
	FeatureV [][]float64
	FeatureF [][]float64

	// Missing lists the modalities hidden from the model for this batch.
	Missing []modality.Modality
}

// AuxLoss is the unweighted sum of the auxiliary losses.
func (o *Output) AuxLoss() float64 {
	return o.LossScoreL + o.LossScoreV + o.LossScoreA + o.LossRec
}

// Feature returns a feature output by name.
func (o *Output) Feature(name string) ([][]float64, error) {
	switch name {
	case FeatureText:
		return o.FeatureT, nil
	case FeatureAudio:
		return o.FeatureA, nil
	case FeatureVision:
		return o.FeatureV, nil
	case FeatureFusion:
		return o.FeatureF, nil
	default:
		return nil, fmt.Errorf("unknown feature %q", name)
	}
}
