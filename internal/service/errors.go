package service

import (
	"errors"
	"fmt"
)

// Error classes surfaced to callers. Handlers map them to HTTP statuses and socket replies.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence failure")
)

// PersistenceError wraps a store failure. errors.Is matches both ErrPersistence and the cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// ReadBackError means the message was stored but could not be re-read for fan-out.
// The message is durable and will appear in later listings.
type ReadBackError struct {
	MessageID int64
	Err       error
}

func (e *ReadBackError) Error() string {
	return fmt.Sprintf("message %d persisted, read-back failed: %v", e.MessageID, e.Err)
}

func (e *ReadBackError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}
