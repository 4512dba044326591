// Package apperr is the ledger's error taxonomy. Every error that crosses the
// service boundary is an *Error with a stable Kind and machine Code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindBlockchain   Kind = "blockchain_error"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches the per-kind sentinels below, so callers can write
// errors.Is(err, apperr.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrBlockchain   = &Error{Kind: KindBlockchain}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrInternal     = &Error{Kind: KindInternal}
)

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newf(KindConflict, code, format, args...)
}

func NotFound(what, id string) *Error {
	return newf(KindNotFound, what+"_not_found", "%s %q not found", what, id)
}

func Forbidden(code, format string, args ...any) *Error {
	return newf(KindForbidden, code, format, args...)
}

// InvalidState names the state an operation required and the one it found.
func InvalidState(op string, required []string, actual string) *Error {
	return newf(KindInvalidState, "invalid_transition", "%s requires status %v, loan is %s", op, required, actual)
}

// Blockchain wraps a verifier failure; the caller decides whether to retry.
func Blockchain(code string, cause error, format string, args ...any) *Error {
	e := newf(KindBlockchain, code, format, args...)
	e.cause = cause
	return e
}

func Internal(cause error, format string, args ...any) *Error {
	e := newf(KindInternal, "internal_error", format, args...)
	e.cause = cause
	return e
}

// KindOf reports the kind of err, treating anything untyped as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind onto its transport status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidState, KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindBlockchain:
		return http.StatusBadGateway
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
