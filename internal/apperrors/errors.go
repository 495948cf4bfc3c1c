// Package apperrors defines the typed errors shared by repositories, services and
// handlers. Handlers never inspect error strings; they map a Kind to a status code.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the HTTP layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindGateway
	KindInvalidSignature
	KindConflict
	KindPersistence
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
	case KindGateway:
		return "gateway"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is an error carrying a Kind and a user-facing message.
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

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports bad or missing input (400).
func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }

// NotFound reports a missing order, user or product (404).
func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

// Unauthorized reports a missing or invalid credential (401).
func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

// Forbidden reports an authenticated caller without the required role (403).
func Forbidden(msg string) *Error { return newError(KindForbidden, msg, nil) }

// Gateway wraps a payment SDK failure (500).
func Gateway(msg string, err error) *Error { return newError(KindGateway, msg, err) }

// InvalidSignature reports a webhook or payment proof that failed verification (400).
func InvalidSignature(msg string, err error) *Error {
	return newError(KindInvalidSignature, msg, err)
}

// Conflict reports a duplicate unique key or a rejected state change (409).
func Conflict(msg string, err error) *Error { return newError(KindConflict, msg, err) }

// Persistence wraps a store failure (500).
func Persistence(msg string, err error) *Error { return newError(KindPersistence, msg, err) }

// Internal wraps an unclassified failure (500).
func Internal(msg string, err error) *Error { return newError(KindInternal, msg, err) }

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode maps err to an HTTP status code.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == KindGateway && appErr.Err != nil {
			return appErr.Error()
		}
		return appErr.Message
	}
	return "Internal server error"
}
