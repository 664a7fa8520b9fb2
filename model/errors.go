package model

import "errors"

var (
	ErrNoForward     = errors.New("backward called without a training forward pass")
	ErrSelection     = errors.New("selector returned an invalid set of missing modalities")
	ErrInputMismatch = errors.New("batch does not match model input widths")
)
