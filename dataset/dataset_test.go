package dataset

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(id string, label float64) Sample {
	return Sample{ID: id, Text: []float64{1, 2}, Audio: []float64{3}, Vision: []float64{4, 5, 6}, Label: label}
}

func TestNewMemoryDataset(t *testing.T) {
	_, err := NewMemoryDataset(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	bad := sample("b", 0)
	bad.Audio = []float64{1, 2}
	_, err = NewMemoryDataset([]Sample{sample("a", 0), bad})
	assert.ErrorIs(t, err, ErrFeatureMismatch)

	ds, err := NewMemoryDataset([]Sample{sample("a", 0.5)})
	require.NoError(t, err)
	assert.Equal(t, Dims{Text: 2, Audio: 1, Vision: 3}, ds.Dims())

	_, err = ds.Get(1)
	assert.ErrorIs(t, err, ErrIndexRange)
}

func TestReadJSONL(t *testing.T) {
	in := `{"id":"u1","text":[1],"audio":[2],"vision":[3],"label":-1.2}

{"text":[4],"audio":[5],"vision":[6],"label":2}
`
	samples, err := ReadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "u1", samples[0].ID)
	assert.Equal(t, -1.2, samples[0].Label)
	assert.Equal(t, "sample-3", samples[1].ID)

	_, err = ReadJSONL(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestSplitsRoundTrip(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Train, cfg.Valid, cfg.Test = 12, 4, 4
	splits, err := Synthesize(cfg)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteSplits(dir, splits))

	loaded, err := LoadSplits(dir)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Train.Len())
	assert.Equal(t, splits.Test.Samples(), loaded.Test.Samples())

	_, err = LoadSplits(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoaderBatches(t *testing.T) {
	var samples []Sample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample(string(rune('a'+i)), float64(i)))
	}
	ds, err := NewMemoryDataset(samples)
	require.NoError(t, err)

	l, err := NewLoader(ds, 4, false, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Len())

	l.Reset()
	var sizes []int
	var labels []float64
	for {
		b, err := l.Next()
		require.NoError(t, err)
		if b == nil {
			break
		}
		sizes = append(sizes, b.Size())
		labels = append(labels, b.Labels...)
		assert.Len(t, b.Text, b.Size())
		assert.Len(t, b.IDs, b.Size())
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, labels)

	_, err = NewLoader(ds, 0, false, 1)
	assert.Error(t, err)
}

func TestLoaderShuffleIsSeededPermutation(t *testing.T) {
	var samples []Sample
	for i := 0; i < 20; i++ {
		samples = append(samples, sample(string(rune('a'+i)), float64(i)))
	}
	ds, err := NewMemoryDataset(samples)
	require.NoError(t, err)

	collect := func(seed int64) []float64 {
		l, err := NewLoader(ds, 3, true, seed)
		require.NoError(t, err)
		l.Reset()
		var out []float64
		for b, _ := l.Next(); b != nil; b, _ = l.Next() {
			out = append(out, b.Labels...)
		}
		return out
	}

	a, b := collect(42), collect(42)
	assert.Equal(t, a, b)

	sorted := append([]float64(nil), a...)
	sort.Float64s(sorted)
	for i, v := range sorted {
		assert.Equal(t, float64(i), v)
	}
}

func TestSynthesizeClasses(t *testing.T) {
	cfg := DefaultSynthConfig()
	cfg.Classes = 3
	cfg.Train, cfg.Valid, cfg.Test = 60, 10, 10
	splits, err := Synthesize(cfg)
	require.NoError(t, err)

	seen := map[float64]bool{}
	for _, s := range splits.Train.Samples() {
		seen[s.Label] = true
		assert.Contains(t, []float64{0, 1, 2}, s.Label)
	}
	assert.Len(t, seen, 3)

	cfg.Train = 0
	_, err = Synthesize(cfg)
	assert.Error(t, err)
}
