package service

import (
	"errors"
	"fmt"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Kind classifies a service error for callers and transports
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidState
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks against a kind
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

// Error is the error type returned by every service operation
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels. A conflict is also an invalid state.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrForbidden:
		return e.Kind == KindForbidden
	case ErrInvalidState:
		return e.Kind == KindInvalidState || e.Kind == KindConflict
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func notFound(format string, args ...interface{}) error {
	return newError(KindNotFound, nil, format, args...)
}

func forbidden(format string, args ...interface{}) error {
	return newError(KindForbidden, nil, format, args...)
}

func invalidState(format string, args ...interface{}) error {
	return newError(KindInvalidState, nil, format, args...)
}

func validation(format string, args ...interface{}) error {
	return newError(KindValidation, nil, format, args...)
}

func conflict(format string, args ...interface{}) error {
	return newError(KindConflict, nil, format, args...)
}

func internal(err error, format string, args ...interface{}) error {
	return newError(KindInternal, err, format, args...)
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// fromWorkflow translates engine errors. Missing or guarded-out transitions are configuration bugs.
func fromWorkflow(err error) error {
	switch {
	case errors.Is(err, workflow.ErrActionNotAllowed):
		return newError(KindInvalidState, err, "action not permitted")
	case errors.Is(err, workflow.ErrNotAuthorized):
		return newError(KindForbidden, err, "not permitted")
	case errors.Is(err, workflow.ErrUnknownKind):
		return newError(KindValidation, err, "unsupported request kind")
	default:
		return newError(KindInternal, err, "workflow configuration error")
	}
}

// fromStore translates repository errors
func fromStore(err error, op string) error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, port.ErrVersionConflict):
		return newError(KindConflict, err, "%s: modified concurrently, reload and retry", op)
	case errors.Is(err, port.ErrDuplicate):
		return newError(KindConflict, err, "%s: already exists", op)
	case errors.Is(err, port.ErrNotFound):
		return newError(KindNotFound, err, "%s: not found", op)
	default:
		return newError(KindInternal, err, "%s", op)
	}
}
