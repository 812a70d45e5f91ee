package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure by how the session should react to it.
type ErrorKind string

const (
	// KindUnavailable marks a missing or busy resource; the feature is disabled for the session.
	KindUnavailable ErrorKind = "unavailable"
	// KindMalformed marks unreadable durable content.
	KindMalformed ErrorKind = "malformed"
	// KindTimeout marks a bounded wait that expired.
	KindTimeout ErrorKind = "timeout"
	// KindInvalid marks bad caller input.
	KindInvalid ErrorKind = "invalid"
)

// AppError wraps an operation, failure kind, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind ErrorKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
