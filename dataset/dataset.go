// Package dataset loads aligned text/audio/vision feature samples and serves
// them as batches.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrEmptyDataset    = errors.New("dataset has no samples")
	ErrFeatureMismatch = errors.New("sample feature width differs from dataset")
	ErrIndexRange      = errors.New("sample index out of range")
)

// Sample is one utterance with its pooled per-modality features.
type Sample struct {
	ID     string    `json:"id"`
	Text   []float64 `json:"text"`
	Audio  []float64 `json:"audio"`
	Vision []float64 `json:"vision"`
	Label  float64   `json:"label"`
}

// Dims are the feature widths of the three modalities.
type Dims struct {
	Text   int `json:"text"`
	Audio  int `json:"audio"`
	Vision int `json:"vision"`
}

// DimsOf reports the feature widths of s.
func DimsOf(s Sample) Dims {
	return Dims{Text: len(s.Text), Audio: len(s.Audio), Vision: len(s.Vision)}
}

// Dataset is random access over samples.
type Dataset interface {
	Len() int
	Get(idx int) (Sample, error)
}

// MemoryDataset keeps every sample in memory.
type MemoryDataset struct {
	samples []Sample
	dims    Dims
}

// NewMemoryDataset checks that all samples share the feature widths of the
// first one.
func NewMemoryDataset(samples []Sample) (*MemoryDataset, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyDataset
	}
	dims := DimsOf(samples[0])
	for i, s := range samples {
		if DimsOf(s) != dims {
			return nil, fmt.Errorf("%w: sample %d (%s) has %+v, want %+v", ErrFeatureMismatch, i, s.ID, DimsOf(s), dims)
		}
	}
	return &MemoryDataset{samples: samples, dims: dims}, nil
}

func (ds *MemoryDataset) Len() int {
	return len(ds.samples)
}

func (ds *MemoryDataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(ds.samples) {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndexRange, idx, len(ds.samples))
	}
	return ds.samples[idx], nil
}

// Dims returns the shared feature widths.
func (ds *MemoryDataset) Dims() Dims {
	return ds.dims
}

// Samples exposes the backing slice.
func (ds *MemoryDataset) Samples() []Sample {
	return ds.samples
}

// ReadJSONL decodes one sample per line.
func ReadJSONL(r io.Reader) ([]Sample, error) {
	var samples []Sample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var s Sample
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("sample-%d", line)
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// LoadJSONL reads a dataset file.
func LoadJSONL(path string) (*MemoryDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	samples, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return NewMemoryDataset(samples)
}

// WriteJSONL writes samples one per line.
func WriteJSONL(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to encode sample %s: %w", s.ID, err)
		}
	}
	return w.Flush()
}

// Split names.
const (
	Train = "train"
	Valid = "valid"
	Test  = "test"
)

// Splits groups the three dataset splits.
type Splits struct {
	Train *MemoryDataset
	Valid *MemoryDataset
	Test  *MemoryDataset
}

// Get returns a split by name.
func (s Splits) Get(name string) (*MemoryDataset, error) {
	switch name {
	case Train:
		return s.Train, nil
	case Valid:
		return s.Valid, nil
	case Test:
		return s.Test, nil
	default:
		return nil, fmt.Errorf("unknown split %q", name)
	}
}

// LoadSplits reads <dir>/train.jsonl, valid.jsonl and test.jsonl and checks
// that the splits agree on feature widths.
func LoadSplits(dir string) (Splits, error) {
	var out Splits
	for _, name := range []string{Train, Valid, Test} {
		ds, err := LoadJSONL(filepath.Join(dir, name+".jsonl"))
		if err != nil {
			return Splits{}, fmt.Errorf("split %s: %w", name, err)
		}
		switch name {
		case Train:
			out.Train = ds
		case Valid:
			out.Valid = ds
		case Test:
			out.Test = ds
		}
	}
	if out.Valid.Dims() != out.Train.Dims() || out.Test.Dims() != out.Train.Dims() {
		return Splits{}, fmt.Errorf("%w: train %+v, valid %+v, test %+v",
			ErrFeatureMismatch, out.Train.Dims(), out.Valid.Dims(), out.Test.Dims())
	}
	return out, nil
}

// WriteSplits writes the three splits under dir.
func WriteSplits(dir string, s Splits) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	for _, name := range []string{Train, Valid, Test} {
		ds, _ := s.Get(name)
		if err := WriteJSONL(filepath.Join(dir, name+".jsonl"), ds.Samples()); err != nil {
			return err
		}
	}
	return nil
}
