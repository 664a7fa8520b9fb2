package training

// Direction says whether the key-eval metric is minimized or maximized.
type Direction string

const (
	Minimize Direction = "min"
	Maximize Direction = "max"
)

// improvementEpsilon is the margin a new value must clear to count as better.
const improvementEpsilon = 1e-6

// DirectionFor returns Minimize for the Loss key and Maximize otherwise.
func DirectionFor(keyEval string) Direction {
	if keyEval == "Loss" {
		return Minimize
	}
	return Maximize
}

// BestState tracks the best validation value seen so far.
type BestState struct {
	Direction Direction `json:"direction"`
	Value     float64   `json:"value"`
	Epoch     int       `json:"epoch"`
}

// NewBestState starts at 1e8 when minimizing and 0 when maximizing.
func NewBestState(d Direction) BestState {
	if d == Minimize {
		return BestState{Direction: d, Value: 1e8}
	}
	return BestState{Direction: d, Value: 0}
}

// Improved reports whether cur beats the best by more than the epsilon.
func (b BestState) Improved(cur float64) bool {
	if b.Direction == Minimize {
		return cur < b.Value-improvementEpsilon
	}
	return cur > b.Value+improvementEpsilon
}

// Observe records cur for epoch if it improves and reports whether it did.
func (b *BestState) Observe(epoch int, cur float64) bool {
	if !b.Improved(cur) {
		return false
	}
	b.Value, b.Epoch = cur, epoch
	return true
}

// ShouldStop reports whether epoch is at least earlyStop epochs past the
// best one.
func (b BestState) ShouldStop(epoch, earlyStop int) bool {
	return epoch-b.Epoch >= earlyStop
}
