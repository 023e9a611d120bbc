package scheduler

import "errors"

var (
	// ErrUnavailable is returned by async operations after Stop.
	ErrUnavailable = errors.New("scheduler unavailable")
	// ErrCircuitOpen is returned when the breaker short-circuits an attempt.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrLimitExceeded is returned when the platform pending cap is reached.
	ErrLimitExceeded = errors.New("platform pending limit exceeded")
)
