package training

import (
	"time"

	"github.com/tsawler/go-mmsa/modality"
)

// Pass modes, used as log prefixes.
const (
	PassTrain = "TRAIN"
	PassValid = "VAL"
	PassTest  = "TEST"
)

// PassInfo identifies a pass in logs and traces.
type PassInfo struct {
	Mode      string // PassTrain, PassValid or PassTest
	Split     string
	Epoch     int
	BestEpoch int
	Seed      int64
}

// EpochResult is the aggregate of one split pass. Metrics["Loss"] is
// rounded to four decimals for eval passes; Loss keeps full precision.
type EpochResult struct {
	Split    string         `json:"split"`
	Mode     string         `json:"mode"`
	Metrics  Results        `json:"metrics"`
	Loss     float64        `json:"loss"`
	Batches  int            `json:"batches"`
	Presence modality.Tally `json:"presence"`
	Duration time.Duration  `json:"duration"`

	Samples *SampleResults `json:"samples,omitempty"`
}

// SampleResults are the per-sample outputs of an eval pass.
type SampleResults struct {
	IDs         []string               `json:"ids"`
	Predictions [][]float64            `json:"predictions"`
	Labels      []float64              `json:"labels"`
	Features    map[string][][]float64 `json:"features"`
}

// History collects per-epoch results of a run.
type History struct {
	Train []EpochResult `json:"train"`
	Valid []EpochResult `json:"valid"`
	Test  []EpochResult `json:"test"`

	BestEpoch  int     `json:"best_epoch"`
	BestValue  float64 `json:"best_value"`
	Epochs     int     `json:"epochs"`
	StopReason string  `json:"stop_reason"`
}
