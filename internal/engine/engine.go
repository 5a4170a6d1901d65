// Package engine provides generation.Engine backends: an in-process llama.cpp
// binding (built with the "llama" tag) and a client for a running llama.cpp
// server.
package engine

import (
	"errors"
	"io"

	"modelbench/internal/generation"
)

// Model is a loaded backend. Close frees the model; sessions must be closed first.
type Model interface {
	generation.Engine
	io.Closer
}

// dependencyUnavailableError signals a backend that is not compiled in or not
// reachable, so callers can report 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing backend.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// ErrSessionClosed is reported when a session is used after Close.
var ErrSessionClosed = errors.New("engine: session closed")
