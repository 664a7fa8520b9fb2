package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// SynthConfig controls the synthetic corpus used for smoke runs and tests.
type SynthConfig struct {
	Dims       Dims
	Train      int
	Valid      int
	Test       int
	Classes    int // 0 for regression labels in [-3, 3]
	Noise      float64
	Seed       int64
	NamePrefix string
}

// DefaultSynthConfig mirrors the small feature widths of pooled MOSI
// features.
func DefaultSynthConfig() SynthConfig {
	return SynthConfig{
		Dims:       Dims{Text: 16, Audio: 5, Vision: 20},
		Train:      320,
		Valid:      80,
		Test:       80,
		Noise:      0.3,
		Seed:       1111,
		NamePrefix: "synth",
	}
}

// Synthesize draws a latent sentiment per sample and projects it into every
// modality with fixed random directions plus noise. Text carries the
// strongest signal, vision the weakest.
func Synthesize(cfg SynthConfig) (Splits, error) {
	if cfg.Train <= 0 || cfg.Valid <= 0 || cfg.Test <= 0 {
		return Splits{}, fmt.Errorf("split sizes must be positive: %d/%d/%d", cfg.Train, cfg.Valid, cfg.Test)
	}
	if cfg.Dims.Text <= 0 || cfg.Dims.Audio <= 0 || cfg.Dims.Vision <= 0 {
		return Splits{}, fmt.Errorf("feature widths must be positive: %+v", cfg.Dims)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	dirT := unitVector(rng, cfg.Dims.Text)
	dirA := unitVector(rng, cfg.Dims.Audio)
	dirV := unitVector(rng, cfg.Dims.Vision)

	gen := func(split string, n int) (*MemoryDataset, error) {
		samples := make([]Sample, n)
		for i := range samples {
			z := rng.Float64()*6 - 3
			samples[i] = Sample{
				ID:     fmt.Sprintf("%s_%s_%04d", cfg.NamePrefix, split, i),
				Text:   project(rng, dirT, z, 1.0, cfg.Noise),
				Audio:  project(rng, dirA, z, 0.6, cfg.Noise),
				Vision: project(rng, dirV, z, 0.4, cfg.Noise),
				Label:  label(z, cfg.Classes),
			}
		}
		return NewMemoryDataset(samples)
	}

	var out Splits
	var err error
	if out.Train, err = gen(Train, cfg.Train); err != nil {
		return Splits{}, err
	}
	if out.Valid, err = gen(Valid, cfg.Valid); err != nil {
		return Splits{}, err
	}
	if out.Test, err = gen(Test, cfg.Test); err != nil {
		return Splits{}, err
	}
	return out, nil
}

func unitVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	norm := 0.0
	for i := range v {
		v[i] = rng.NormFloat64()
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}

func project(rng *rand.Rand, dir []float64, z, strength, noise float64) []float64 {
	out := make([]float64, len(dir))
	for i, d := range dir {
		out[i] = d*z*strength + rng.NormFloat64()*noise
	}
	return out
}

// label maps the latent score to a regression target or, for three classes,
// to negative/neutral/positive.
func label(z float64, classes int) float64 {
	if classes <= 0 {
		return math.Round(z*10) / 10
	}
	if classes == 3 {
		switch {
		case z < -0.5:
			return 0
		case z > 0.5:
			return 2
		default:
			return 1
		}
	}
	k := int((z + 3) / 6 * float64(classes))
	if k >= classes {
		k = classes - 1
	}
	return float64(k)
}
