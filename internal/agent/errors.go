package agent

import (
	"errors"
	"fmt"

	"github.com/majorcontext/agento/internal/storage"
)

var (
	// ErrNotFound is returned when the agent (or a referenced provider) doesn't exist.
	ErrNotFound = storage.ErrNotFound
	// ErrConflict is returned when starting an agent whose container is verifiably running.
	ErrConflict = errors.New("agent is already running")
	// ErrInvalidState is returned when an agent cannot be started as configured.
	ErrInvalidState = errors.New("agent cannot be started")
	// ErrInvalidArgument is returned for malformed create or update requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoContainer is returned when reading logs of an agent that never started.
	ErrNoContainer = errors.New("agent has no container")
)

// RuntimeError reports a failed container engine or secret operation. For
// starts, its cause is what gets recorded as the agent's last error.
type RuntimeError struct {
	Op    string
	Cause error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}
