package modality

import (
	"fmt"
	"math"
)

// Counters tracks how many batches of the current pass were degraded. They
// are reset at the start of every split pass.
type Counters struct {
	TwoMissing int `json:"two_missing"`
	OneMissing int `json:"one_missing"`
}

// NormalizedTotal rounds the batch count of a split to the nearest multiple
// of ten (halves go to the even multiple). Small splits that would round to
// zero keep their raw count instead.
func NormalizedTotal(total int) int {
	n := int(math.RoundToEven(float64(total)/10)) * 10
	if n == 0 {
		return total
	}
	return n
}

// Decide picks the presence for the next batch of a pass with total batches
// and returns the updated counters. Two-missing targets are served before
// one-missing targets; once both are met every remaining batch sees all three
// modalities. The rate must have passed Validate.
func Decide(total int, c Counters, rate Rate) (Presence, Counters) {
	denom := NormalizedTotal(total)
	if denom <= 0 {
		return Three, c
	}
	two, one := rate.Targets()

	switch {
	case float64(c.TwoMissing)/float64(denom) < two:
		c.TwoMissing++
		return One, c
	case float64(c.OneMissing)/float64(denom) < one:
		c.OneMissing++
		return Two, c
	default:
		return Three, c
	}
}

// Decision is the outcome of one scheduling step.
type Decision struct {
	Batch    int      `json:"batch"`
	Presence Presence `json:"presence"`
	Counters Counters `json:"counters"`
}

// Tally counts batches per presence.
type Tally struct {
	One   int `json:"one"`
	Two   int `json:"two"`
	Three int `json:"three"`
}

// Add records one decision.
func (t *Tally) Add(p Presence) {
	switch p {
	case One:
		t.One++
	case Two:
		t.Two++
	case Three:
		t.Three++
	}
}

// Total is the number of recorded batches.
func (t Tally) Total() int {
	return t.One + t.Two + t.Three
}

// Pass threads the counters of a single split pass through Decide. A Pass is
// owned by one runner and is not safe for concurrent use.
type Pass struct {
	total    int
	rate     Rate
	batch    int
	counters Counters
	tally    Tally
}

// NewPass validates the rate and starts a pass over total batches with fresh
// counters.
func NewPass(total int, rate Rate) (*Pass, error) {
	if total < 0 {
		return nil, fmt.Errorf("negative batch count %d", total)
	}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return &Pass{total: total, rate: rate}, nil
}

// Next decides the presence for the next batch.
func (p *Pass) Next() Decision {
	presence, counters := Decide(p.total, p.counters, p.rate)
	p.counters = counters
	p.tally.Add(presence)
	d := Decision{Batch: p.batch, Presence: presence, Counters: counters}
	p.batch++
	return d
}

// Counters returns the counters after the decisions made so far.
func (p *Pass) Counters() Counters {
	return p.counters
}

// Tally returns per-presence batch counts for the decisions made so far.
func (p *Pass) Tally() Tally {
	return p.tally
}

// Plan returns the full decision sequence of a fresh pass with the same
// batch count and rate. It does not advance p.
func (p *Pass) Plan() []Decision {
	fresh := &Pass{total: p.total, rate: p.rate}
	out := make([]Decision, 0, p.total)
	for i := 0; i < p.total; i++ {
		out = append(out, fresh.Next())
	}
	return out
}
