package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when one or more send positions are missing
	ErrNotConfigured = errors.New("positions not configured: capture or load them first")

	// ErrAlreadyRunning is returned by Start while a session is active
	ErrAlreadyRunning = errors.New("a session is already running")

	// ErrSessionActive is returned when statistics are reset during a session
	ErrSessionActive = errors.New("cannot reset statistics while a session is active")

	// ErrInvalidRecipientCount is returned when the recipient count is below one
	ErrInvalidRecipientCount = errors.New("recipient count must be at least 1")
)

// ActuatorError reports a failed step of a send cycle. It aborts the cycle,
// never the session.
type ActuatorError struct {
	Step  string
	Point Point
	Err   error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("step %s at %s failed: %v", e.Step, e.Point, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed load or save of configuration, positions
// or statistics. Callers keep their current values and carry on.
type PersistenceError struct {
	Op   string // load or save
	What string // config, positions, statistics
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.What, e.Err)
	}
	return fmt.Sprintf("failed to %s %s (%s): %v", e.Op, e.What, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
