package loop

import "errors"

var (
	// ErrInvalidConfig is returned when a controller or policy is constructed with malformed settings.
	ErrInvalidConfig = errors.New("invalid loop config")
	// ErrTerminated is returned by Advance once the loop has written its completion status.
	ErrTerminated = errors.New("loop already terminated")
	// ErrNoProgress reports that a reply could not be turned into state updates.
	ErrNoProgress = errors.New("reply produced no progress")
	ErrStateNil   = errors.New("session state is nil")
	ErrContextNil = errors.New("context is nil")
)
