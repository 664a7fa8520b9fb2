package checkpoints

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tsawler/go-mmsa/tensor"
)

var (
	// ErrShapeMismatch is returned when a loaded tensor does not fit the
	// parameter it is loaded into.
	ErrShapeMismatch = errors.New("checkpoint tensor shape mismatch")
	// ErrMissingTensor is returned by Apply when a parameter has no entry.
	ErrMissingTensor = errors.New("checkpoint has no tensor for parameter")
)

// StateDict maps parameter names to tensors.
type StateDict map[string]*tensor.Tensor

// FromParameters snapshots the current parameter values.
func FromParameters(params []*tensor.Parameter) StateDict {
	sd := make(StateDict, len(params))
	for _, p := range params {
		sd[p.Name] = p.Value.Clone()
	}
	return sd
}

// FromWeights builds a state dict from checkpoint weights.
func FromWeights(ws []WeightTensor) (StateDict, error) {
	sd := make(StateDict, len(ws))
	for _, w := range ws {
		t, err := tensor.New(w.Shape, append([]float64(nil), w.Data...))
		if err != nil {
			return nil, fmt.Errorf("weight %s: %w", w.Name, err)
		}
		sd[w.Name] = t
	}
	return sd, nil
}

// Keys returns the entry names in sorted order.
func (sd StateDict) Keys() []string {
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Weights converts the state dict to checkpoint weights, sorted by name.
func (sd StateDict) Weights() []WeightTensor {
	out := make([]WeightTensor, 0, len(sd))
	for _, k := range sd.Keys() {
		t := sd[k]
		out = append(out, WeightTensor{
			Name:  k,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
		})
	}
	return out
}

// WithPrefix returns a copy whose keys are prefixed.
func (sd StateDict) WithPrefix(prefix string) StateDict {
	out := make(StateDict, len(sd))
	for k, v := range sd {
		out[prefix+k] = v
	}
	return out
}

// Apply copies every entry of sd into the parameter of the same name. All
// parameters must be present with matching shapes.
func Apply(params []*tensor.Parameter, sd StateDict) error {
	for _, p := range params {
		t, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTensor, p.Name)
		}
		if !p.Value.SameShape(t) {
			return fmt.Errorf("%w: %s has shape %v, checkpoint has %v", ErrShapeMismatch, p.Name, p.Value.Shape, t.Shape)
		}
	}
	for _, p := range params {
		copy(p.Value.Data, sd[p.Name].Data)
	}
	return nil
}

// MergeReport describes how a loaded state dict lined up with the live one.
type MergeReport struct {
	Loaded     []string `json:"loaded"`
	Missing    []string `json:"missing"`    // live keys with no loaded entry
	Unexpected []string `json:"unexpected"` // loaded keys with no live entry
}

// Merge overlays loaded onto live. The prefix is stripped from loaded keys
// that carry it; keys without a live counterpart are ignored, and live keys
// not in loaded keep their value. A shape mismatch on a shared key is an
// error. The returned dict is a new map; live is not modified.
func Merge(live, loaded StateDict, prefix string) (StateDict, MergeReport, error) {
	var report MergeReport
	out := make(StateDict, len(live))
	for k, v := range live {
		out[k] = v
	}

	seen := map[string]bool{}
	for _, k := range loaded.Keys() {
		name := strings.TrimPrefix(k, prefix)
		cur, ok := live[name]
		if !ok {
			report.Unexpected = append(report.Unexpected, k)
			continue
		}
		t := loaded[k]
		if !cur.SameShape(t) {
			return nil, report, fmt.Errorf("%w: %s has shape %v, loaded %v", ErrShapeMismatch, name, cur.Shape, t.Shape)
		}
		out[name] = t.Clone()
		seen[name] = true
		report.Loaded = append(report.Loaded, name)
	}
	for _, k := range live.Keys() {
		if !seen[k] {
			report.Missing = append(report.Missing, k)
		}
	}
	return out, report, nil
}
