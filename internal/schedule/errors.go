package schedule

import "errors"

var (
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidShift    = errors.New("invalid shift")
	ErrInvalidSearch   = errors.New("invalid search options")
)
