// Package modality decides, batch by batch, how many input modalities a
// multimodal model is allowed to see during a pass over a dataset split.
package modality

import "fmt"

// Modality is one of the three input channels.
type Modality int

const (
	Text Modality = iota
	Audio
	Vision
)

// All lists the modalities in their canonical order.
var All = []Modality{Text, Audio, Vision}

func (m Modality) String() string {
	switch m {
	case Text:
		return "text"
	case Audio:
		return "audio"
	case Vision:
		return "vision"
	default:
		return fmt.Sprintf("Modality(%d)", int(m))
	}
}

// Presence is the number of modalities available to the model for a batch.
type Presence int

const (
	// One means two modalities are missing.
	One Presence = 1
	// Two means one modality is missing.
	Two Presence = 2
	// Three means nothing is missing.
	Three Presence = 3
)

// Valid reports whether p is one of One, Two or Three.
func (p Presence) Valid() bool {
	return p == One || p == Two || p == Three
}

// Missing returns how many modalities are hidden from the model.
func (p Presence) Missing() int {
	return 3 - int(p)
}

func (p Presence) String() string {
	switch p {
	case One:
		return "one"
	case Two:
		return "two"
	case Three:
		return "three"
	default:
		return fmt.Sprintf("Presence(%d)", int(p))
	}
}

// MarshalText encodes the presence by name.
func (p Presence) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPresence, int(p))
	}
	return []byte(p.String()), nil
}
