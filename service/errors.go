package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindNotFound
	KindForbidden
	KindValidation
	KindConflict
	KindTimeout
)

var kindNames = map[Kind]string{
	KindInternal:       "internal",
	KindAuthentication: "authentication",
	KindNotFound:       "not_found",
	KindForbidden:      "forbidden",
	KindValidation:     "validation",
	KindConflict:       "conflict",
	KindTimeout:        "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind so callers can react without string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// whatever the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden      = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrValidation     = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "conflict"}
	ErrTimeout        = &Error{Kind: KindTimeout, Message: "timed out"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same operation.
func Retryable(err error) bool {
	return KindOf(err) == KindTimeout
}

// storeError converts a persistence failure into the taxonomy. Deadlines and
// cancellations surface as retryable timeouts.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTimeout, Message: what, Err: err}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Message: what + " not found"}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindConflict, Message: what + " already exists", Err: err}
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Message: what, Err: err}
}
