package dataset

import (
	"fmt"
	"math/rand"
)

// Batch is a contiguous group of samples laid out per modality.
type Batch struct {
	IDs    []string
	Text   [][]float64
	Audio  [][]float64
	Vision [][]float64
	Labels []float64
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// Loader provides batching and optional shuffling over a Dataset.
type Loader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

// NewLoader creates a loader. Shuffling uses its own seeded source so runs
// are reproducible.
func NewLoader(ds Dataset, batchSize int, shuffle bool, seed int64) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in a pass.
func (l *Loader) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Reset rewinds the loader for a new pass, reshuffling when enabled.
func (l *Loader) Reset() {
	l.position = 0
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
}

// Next returns the next batch, or nil once the pass is complete.
func (l *Loader) Next() (*Batch, error) {
	if l.position >= len(l.indices) {
		return nil, nil
	}
	end := l.position + l.batchSize
	if end > len(l.indices) {
		end = len(l.indices)
	}
	idx := l.indices[l.position:end]
	l.position = end

	b := &Batch{
		IDs:    make([]string, 0, len(idx)),
		Text:   make([][]float64, 0, len(idx)),
		Audio:  make([][]float64, 0, len(idx)),
		Vision: make([][]float64, 0, len(idx)),
		Labels: make([]float64, 0, len(idx)),
	}
	for _, i := range idx {
		s, err := l.dataset.Get(i)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch: %w", err)
		}
		b.IDs = append(b.IDs, s.ID)
		b.Text = append(b.Text, s.Text)
		b.Audio = append(b.Audio, s.Audio)
		b.Vision = append(b.Vision, s.Vision)
		b.Labels = append(b.Labels, s.Label)
	}
	return b, nil
}
