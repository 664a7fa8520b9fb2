// Package layers holds the CPU building blocks of the reference model: a
// dense layer with an explicit backward pass and the task criteria.
package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-mmsa/tensor"
)

// Dense computes y = W x + b for every row of a batch.
type Dense struct {
	In, Out int
	Weight  *tensor.Parameter // [Out, In]
	Bias    *tensor.Parameter // [Out]
}

// NewDense creates a dense layer named prefix (parameters prefix.weight and
// prefix.bias) with Kaiming-uniform style initialization.
func NewDense(prefix string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		In:     in,
		Out:    out,
		Weight: tensor.NewParameter(prefix+".weight", out, in),
		Bias:   tensor.NewParameter(prefix+".bias", out),
	}
	bound := 1 / math.Sqrt(float64(in))
	d.Weight.InitUniform(rng, bound)
	d.Bias.InitUniform(rng, bound)
	return d
}

// Parameters returns weight then bias.
func (d *Dense) Parameters() []*tensor.Parameter {
	return []*tensor.Parameter{d.Weight, d.Bias}
}

// Forward maps a [B, In] batch to [B, Out].
func (d *Dense) Forward(x [][]float64) ([][]float64, error) {
	w, b := d.Weight.Value.Data, d.Bias.Value.Data
	out := make([][]float64, len(x))
	for n, row := range x {
		if len(row) != d.In {
			return nil, fmt.Errorf("dense %s: row %d has %d features, want %d", d.Weight.Name, n, len(row), d.In)
		}
		y := make([]float64, d.Out)
		for o := 0; o < d.Out; o++ {
			s := b[o]
			wo := w[o*d.In : (o+1)*d.In]
			for i, v := range row {
				s += wo[i] * v
			}
			y[o] = s
		}
		out[n] = y
	}
	return out, nil
}

// Backward accumulates parameter gradients for the batch x given upstream
// gradients gy ([B, Out]) and returns the gradient with respect to x.
func (d *Dense) Backward(x, gy [][]float64) [][]float64 {
	w := d.Weight.Value.Data
	gw, gb := d.Weight.Grad, d.Bias.Grad
	gx := make([][]float64, len(x))
	for n, row := range x {
		g := gy[n]
		gxr := make([]float64, d.In)
		for o := 0; o < d.Out; o++ {
			if g[o] == 0 {
				continue
			}
			if !d.Bias.Frozen {
				gb[o] += g[o]
			}
			base := o * d.In
			for i, v := range row {
				if !d.Weight.Frozen {
					gw[base+i] += g[o] * v
				}
				gxr[i] += g[o] * w[base+i]
			}
		}
		gx[n] = gxr
	}
	return gx
}
