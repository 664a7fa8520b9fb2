package training

import "errors"

var (
	ErrEmptySplit       = errors.New("split has no batches")
	ErrTrainMode        = errors.New("unknown train mode")
	ErrMetricsInput     = errors.New("invalid metrics input")
	ErrUnknownScheduler = errors.New("unknown lr scheduler")
	ErrPretrained       = errors.New("pretrained weights unavailable")
	ErrKeyEval          = errors.New("key-eval metric missing from validation results")
	ErrMissingSplit     = errors.New("split not configured")
)
