package optimizer

import (
	"fmt"

	"github.com/tsawler/go-mmsa/checkpoints"
	"github.com/tsawler/go-mmsa/tensor"
)

// buffers holds one state slice per parameter, allocated on first use.
type buffers [][]float64

// ensure sizes the buffers for params, allocating zeros the first time.
func (b *buffers) ensure(sizes []int) error {
	if *b == nil {
		*b = make(buffers, len(sizes))
		for i, n := range sizes {
			(*b)[i] = make([]float64, n)
		}
		return nil
	}
	if len(*b) != len(sizes) {
		return fmt.Errorf("%w: state for %d, got %d", ErrParamCount, len(*b), len(sizes))
	}
	for i, n := range sizes {
		if len((*b)[i]) != n {
			return fmt.Errorf("%w: parameter %d has %d elements, state has %d", ErrParamCount, i, n, len((*b)[i]))
		}
	}
	return nil
}

// extractBufferState snapshots every buffer as name_<index> tensors.
func extractBufferState(b buffers, name, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(b))
	for i, buf := range b {
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", name, i),
			Shape:     []int{len(buf)},
			Data:      append([]float64(nil), buf...),
			StateType: stateType,
		})
	}
	return out
}

// restoreBufferState rebuilds buffers from the tensors of one state type.
// Indices must be contiguous from zero.
func restoreBufferState(tensors []checkpoints.OptimizerTensor, stateType string) (buffers, error) {
	byIdx := map[int][]float64{}
	for _, t := range tensors {
		if t.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 {
			return nil, fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		byIdx[idx] = append([]float64(nil), t.Data...)
	}
	if len(byIdx) == 0 {
		return nil, nil
	}
	out := make(buffers, len(byIdx))
	for i := range out {
		data, ok := byIdx[i]
		if !ok {
			return nil, fmt.Errorf("%s buffer %d missing from state", stateType, i)
		}
		out[i] = data
	}
	return out, nil
}

func sizesOf(params []*tensor.Parameter) []int {
	out := make([]int, len(params))
	for i, p := range params {
		out[i] = len(p.Value.Data)
	}
	return out
}

// extractFloat64Param safely extracts a float parameter from the state map
func extractFloat64Param(params map[string]float64, key string, defaultValue float64) float64 {
	if val, ok := params[key]; ok {
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]float64, key string, defaultValue uint64) uint64 {
	if val, ok := params[key]; ok && val >= 0 {
		return uint64(val)
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
