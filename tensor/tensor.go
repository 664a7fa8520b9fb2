// Package tensor provides the dense CPU tensors and trainable parameters the
// training loop and checkpoints operate on.
package tensor

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrShape is returned when data does not fit the declared shape.
var ErrShape = errors.New("data length does not match shape")

// Tensor is a dense row-major float64 tensor.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// New returns a tensor over data, checking that the shape accounts for every
// element.
func New(shape []int, data []float64) (*Tensor, error) {
	if NumElems(shape) != len(data) {
		return nil, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShape, shape, NumElems(shape), len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros allocates a zero tensor.
func Zeros(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, NumElems(shape))}
}

// NumElems returns the element count of shape.
func NumElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return ShapesEqual(t.Shape, o.Shape)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, len(t.Data))
}

// ShapesEqual compares two shapes.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Parameter is a named trainable tensor with its gradient accumulator.
type Parameter struct {
	Name   string
	Value  *Tensor
	Grad   []float64
	Frozen bool
}

// NewParameter allocates a zero parameter and its gradient.
func NewParameter(name string, shape ...int) *Parameter {
	v := Zeros(shape...)
	return &Parameter{Name: name, Value: v, Grad: make([]float64, len(v.Data))}
}

// InitUniform fills the parameter from U(-bound, bound).
func (p *Parameter) InitUniform(rng *rand.Rand, bound float64) {
	for i := range p.Value.Data {
		p.Value.Data[i] = (rng.Float64()*2 - 1) * bound
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}
