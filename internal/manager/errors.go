package manager

import "errors"

// tooBusyError signals admission timeout for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string { return "too busy: a generation is already running" }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// notReadyError is returned when an operation needs a state the manager is not in.
type notReadyError struct{ state State }

func (e notReadyError) Error() string { return "not ready: manager is " + string(e.state) }

// IsNotReady reports whether err was caused by the manager's lifecycle state (return 409).
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}
