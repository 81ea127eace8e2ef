package gateway

import "errors"

// Sentinel errors for server lifecycle operations.
var (
	// ErrServerNotStopped indicates that the server is not in stopped
	// state when a start operation is attempted.
	ErrServerNotStopped = errors.New("server is not in stopped state")

	// ErrServerNotRunning indicates that the server is not running when a
	// stop operation is attempted.
	ErrServerNotRunning = errors.New("server is not running")
)
