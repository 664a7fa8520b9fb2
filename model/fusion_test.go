package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-mmsa/dataset"
	"github.com/tsawler/go-mmsa/layers"
	"github.com/tsawler/go-mmsa/modality"
)

const auxWeight = 0.1

func testBatch(rng *rand.Rand, n int, dims dataset.Dims, label func(int) float64) *dataset.Batch {
	row := func(w int) []float64 {
		r := make([]float64, w)
		for i := range r {
			r[i] = rng.NormFloat64()
		}
		return r
	}
	b := &dataset.Batch{}
	for i := 0; i < n; i++ {
		b.IDs = append(b.IDs, "s")
		b.Text = append(b.Text, row(dims.Text))
		b.Audio = append(b.Audio, row(dims.Audio))
		b.Vision = append(b.Vision, row(dims.Vision))
		b.Labels = append(b.Labels, label(i))
	}
	return b
}

func combined(t *testing.T, m *LateFusion, crit layers.Criterion, b *dataset.Batch, p modality.Presence) float64 {
	t.Helper()
	out, err := m.Forward(b, p)
	require.NoError(t, err)
	task, err := crit.Forward(out.M, b.Labels)
	require.NoError(t, err)
	return task + auxWeight*out.AuxLoss()
}

func checkGradients(t *testing.T, crit layers.Criterion, outputs int, label func(int) float64) {
	dims := dataset.Dims{Text: 4, Audio: 3, Vision: 5}
	cases := []struct {
		name     string
		presence modality.Presence
		order    []modality.Modality
	}{
		{"all visible", modality.Three, nil},
		{"audio hidden", modality.Two, []modality.Modality{modality.Audio}},
		{"only text visible", modality.One, []modality.Modality{modality.Vision, modality.Audio}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewLateFusion(Config{Dims: dims, Hidden: 3, Outputs: outputs, Seed: 5}, crit)
			require.NoError(t, err)
			m.SetSelector(FixedSelector(append(tc.order, modality.Text, modality.Audio, modality.Vision)...))
			b := testBatch(rand.New(rand.NewSource(9)), 4, dims, label)

			out, err := m.Forward(b, tc.presence)
			require.NoError(t, err)
			require.Len(t, out.Missing, tc.presence.Missing())
			gM, err := crit.Backward(out.M, b.Labels)
			require.NoError(t, err)
			require.NoError(t, m.Backward(gM, auxWeight))

			const eps = 1e-6
			for _, p := range m.Parameters() {
				for i := range p.Value.Data {
					orig := p.Value.Data[i]
					p.Value.Data[i] = orig + eps
					up := combined(t, m, crit, b, tc.presence)
					p.Value.Data[i] = orig - eps
					down := combined(t, m, crit, b, tc.presence)
					p.Value.Data[i] = orig

					num := (up - down) / (2 * eps)
					assert.InDelta(t, num, p.Grad[i], 1e-5, "%s[%d]", p.Name, i)
				}
			}
		})
	}
}

func TestLateFusionGradientsRegression(t *testing.T) {
	labels := []float64{-2.1, 0.7, 1.9, -0.4}
	checkGradients(t, layers.L1Loss{}, 1, func(i int) float64 { return labels[i] })
}

func TestLateFusionGradientsClassification(t *testing.T) {
	checkGradients(t, layers.CrossEntropyLoss{}, 3, func(i int) float64 { return float64(i % 3) })
}

func TestLateFusionOutputs(t *testing.T) {
	dims := dataset.Dims{Text: 4, Audio: 3, Vision: 5}
	m, err := NewLateFusion(Config{Dims: dims, Hidden: 6, Outputs: 1, Seed: 1}, layers.L1Loss{})
	require.NoError(t, err)
	b := testBatch(rand.New(rand.NewSource(2)), 5, dims, func(int) float64 { return 0.5 })

	full, err := m.Forward(b, modality.Three)
	require.NoError(t, err)
	assert.Len(t, full.M, 5)
	assert.Len(t, full.M[0], 1)
	assert.Equal(t, 0.0, full.LossRec)
	for _, name := range FeatureNames {
		f, err := full.Feature(name)
		require.NoError(t, err)
		assert.Len(t, f, 5)
		assert.Len(t, f[0], 6)
	}
	_, err = full.Feature("Feature_x")
	assert.Error(t, err)

	for i := 0; i < 20; i++ {
		out, err := m.Forward(b, modality.One)
		require.NoError(t, err)
		require.Len(t, out.Missing, 2)
		assert.NotEqual(t, out.Missing[0], out.Missing[1])
		assert.Greater(t, out.LossRec, 0.0)
		assert.False(t, math.IsNaN(out.AuxLoss()))
	}
}

func TestLateFusionEvalModeHasNoBackward(t *testing.T) {
	dims := dataset.Dims{Text: 2, Audio: 2, Vision: 2}
	m, err := NewLateFusion(Config{Dims: dims, Hidden: 2, Outputs: 1, Seed: 1}, layers.L1Loss{})
	require.NoError(t, err)
	m.SetTraining(false)

	b := testBatch(rand.New(rand.NewSource(3)), 2, dims, func(int) float64 { return 1 })
	out, err := m.Forward(b, modality.Two)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Backward(out.M, auxWeight), ErrNoForward)
}

func TestLateFusionRejectsBadInput(t *testing.T) {
	dims := dataset.Dims{Text: 2, Audio: 2, Vision: 2}
	m, err := NewLateFusion(Config{Dims: dims, Hidden: 2, Outputs: 1, Seed: 1}, layers.L1Loss{})
	require.NoError(t, err)
	b := testBatch(rand.New(rand.NewSource(3)), 2, dims, func(int) float64 { return 1 })

	_, err = m.Forward(b, modality.Presence(0))
	assert.ErrorIs(t, err, modality.ErrInvalidPresence)

	m.SetSelector(func(modality.Presence) []modality.Modality {
		return []modality.Modality{modality.Text, modality.Text}
	})
	_, err = m.Forward(b, modality.One)
	assert.ErrorIs(t, err, ErrSelection)

	m.SetSelector(FixedSelector(modality.Vision))
	assert.NotPanics(t, func() { _, err = m.Forward(b, modality.One) })
	assert.ErrorIs(t, err, ErrSelection)
	_, err = m.Forward(b, modality.Two)
	assert.NoError(t, err)

	m.SetSelector(FixedSelector(modality.Text, modality.Audio, modality.Vision))
	b.Audio = b.Audio[:1]
	_, err = m.Forward(b, modality.Three)
	assert.ErrorIs(t, err, ErrInputMismatch)

	_, err = NewLateFusion(Config{Dims: dataset.Dims{Text: 1}, Hidden: 2, Outputs: 1}, layers.L1Loss{})
	assert.Error(t, err)
}
