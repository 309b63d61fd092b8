package engine

import "errors"

var (
	// ErrDeviceUnavailable is returned (wrapped) when the capture device
	// cannot be opened or fails while a session is running.
	ErrDeviceUnavailable = errors.New("engine: audio device unavailable")

	// ErrAlreadyAcquired is returned when a capture session is already
	// active or being acquired.
	ErrAlreadyAcquired = errors.New("engine: audio session already acquired")

	// ErrHandleReleased is returned when reading from a released handle.
	ErrHandleReleased = errors.New("engine: session handle released")
)
