package usecase

import (
	"errors"
	"fmt"
)

// Kind classifies use case failures so transports can map them to a status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindModelUnavailable
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a failure with a message that is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err. Errors not produced by this package are
// internal.
func KindOf(err error) Kind {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return ucErr.Kind
	}
	return KindInternal
}

// Message returns the client-facing message of err, or "" for internal
// errors.
func Message(err error) string {
	var ucErr *Error
	if errors.As(err, &ucErr) && ucErr.Kind != KindInternal {
		return ucErr.Message
	}
	return ""
}
