package modality

import (
	"fmt"
	"math"
	"strconv"
)

// TwoMissingTargets holds, per rate index, the target share of batches in a
// pass that see a single modality.
var TwoMissingTargets = [7]float64{0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1.0}

// OneMissingTargets holds, per rate index, the target share of batches in a
// pass that miss exactly one modality.
var OneMissingTargets = [7]float64{0.1, 0.2, 0.3, 0.2, 0.1, 0.0, 0.0}

// indexSlack absorbs representation error so that e.g. 0.29999999999 still
// lands on the 0.3 column.
const indexSlack = 1e-9

// Rate is the configured fractional missing rate, e.g. 0.4.
type Rate float64

// ParseRate parses and validates a textual missing rate.
func ParseRate(s string) (Rate, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	r := Rate(v)
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r, nil
}

// FromLevel converts an integer level in [1..10] to a rate (level/10) and
// validates it against the target tables.
func FromLevel(level int) (Rate, error) {
	if level < 1 || level > 10 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	r := Rate(float64(level) / 10)
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r, nil
}

// Index maps the rate to a column of the target tables: int(rate*10 - 1).
// The result is only meaningful after Validate succeeds.
func (r Rate) Index() int {
	return int(math.Floor(float64(r)*10+indexSlack)) - 1
}

// Validate checks that the rate lies in (0, 1] and selects an existing
// column of the target tables.
func (r Rate) Validate() error {
	v := float64(r)
	if math.IsNaN(v) || v <= 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, v)
	}
	if idx := r.Index(); idx < 0 || idx >= len(TwoMissingTargets) {
		return fmt.Errorf("%w: %v maps to index %d, want 0..%d", ErrInvalidRate, v, idx, len(TwoMissingTargets)-1)
	}
	return nil
}

// Targets returns the two-missing and one-missing target shares for r.
func (r Rate) Targets() (two, one float64) {
	idx := r.Index()
	return TwoMissingTargets[idx], OneMissingTargets[idx]
}

func (r Rate) String() string {
	return strconv.FormatFloat(float64(r), 'f', -1, 64)
}
