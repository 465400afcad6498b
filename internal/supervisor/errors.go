package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the service is not Stopped.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned by Stop when the service is already Stopped.
	ErrNotRunning = errors.New("not running")

	// ErrUnknownService is returned for names that were never configured.
	ErrUnknownService = errors.New("unknown service")

	// ErrClosed is returned by operations that would spawn after Close.
	ErrClosed = errors.New("supervisor closed")
)

// Operation names used in OpError.
const (
	OpStart   = "start"
	OpStop    = "stop"
	OpRestart = "restart"
)

// OpError records the operation and service a failure belongs to.
type OpError struct {
	Op      string
	Service string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// SpawnError means the OS refused to create the process (missing executable,
// invalid working directory). The service is left Stopped.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// MultiError aggregates failures from bulk operations.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred: %v", len(m.Errors), errors.Join(m.Errors...))
	}
}

// Add appends err unless it is nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes every collected error to errors.Is / errors.As.
func (m *MultiError) Unwrap() []error { return m.Errors }

// Err returns nil when nothing was collected.
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// expected reports errors that bulk operations treat as no-ops.
func expected(err error) bool {
	return errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrNotRunning)
}
