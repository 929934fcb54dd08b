package timer

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch on them with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrStorage         = errors.New("storage failure")

	// ErrNoActiveTimer reports an operation that needs a running timer on an idle user.
	ErrNoActiveTimer = fmt.Errorf("%w: no active timer", ErrConflict)
)

// ErrLockTimeout is returned by stores when the per-user lock cannot be taken in time.
var ErrLockTimeout = errors.New("timer lock timeout")

// OpError is a typed error that carries an operation name and a kind.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func invalid(op, msg string) error {
	return &OpError{Op: op, Kind: ErrInvalidArgument, Msg: msg}
}

func notFound(op, msg string) error {
	return &OpError{Op: op, Kind: ErrNotFound, Msg: msg}
}

func noActive(op, msg string) error {
	return &OpError{Op: op, Kind: ErrNoActiveTimer, Msg: msg}
}

// storage wraps a store error. Kind errors raised inside a transaction pass through unchanged.
func storage(op string, err error) error {
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return notFound(op, "time entry not found")
	}
	return &OpError{Op: op, Kind: ErrStorage, Err: err}
}

// Message returns the human-readable part of err for API responses.
func Message(err error) string {
	var oe *OpError
	if errors.As(err, &oe) {
		if oe.Msg != "" {
			return oe.Msg
		}
		return oe.Kind.Error()
	}
	return err.Error()
}
