package orders

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindTooManyAttempts   Kind = "too_many_attempts"
	KindUpstream          Kind = "upstream"
	KindPartialFailure    Kind = "partial_failure"
	KindInternal          Kind = "internal"
)

// Error is the domain error surfaced to callers. Kind selects the response
// class, Code is stable per failure and Message is safe to show.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Set on partial failures: the shop/order that failed and the orders
	// that were persisted before it.
	ShopID  string
	OrderID string
	Created []string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

func Validation(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func Forbidden(code, format string, args ...any) *Error {
	return newError(KindForbidden, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	e := newError(KindInternal, "internal", format, args...)
	e.Err = err
	return e
}

func Upstream(err error, code, format string, args ...any) *Error {
	e := newError(KindUpstream, code, format, args...)
	e.Err = err
	return e
}

// KindOf reports the kind of err; errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
