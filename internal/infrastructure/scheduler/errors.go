package scheduler

import "errors"

var (
	ErrJobNotFound = errors.New("scheduler: no such job")
	// ErrInvalidConfig wraps every job list New refuses.
	ErrInvalidConfig = errors.New("scheduler: bad job definition")
)
