package modality

import "errors"

var (
	ErrInvalidRate     = errors.New("missing rate out of range")
	ErrInvalidLevel    = errors.New("missing rate level out of range")
	ErrInvalidPresence = errors.New("invalid modality presence")
)
