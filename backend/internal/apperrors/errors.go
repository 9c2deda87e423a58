// Package apperrors defines the request-scoped failure kinds reported to callers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable failure category.
type Kind string

const (
	KindInstrumentUnavailable Kind = "INSTRUMENT_UNAVAILABLE"
	KindInsufficientFunds     Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientStock     Kind = "INSUFFICIENT_STOCK"
	KindNoLiquidity           Kind = "NO_LIQUIDITY"
	KindOrderNotFound         Kind = "ORDER_NOT_FOUND"
	KindOrderNotCancelable    Kind = "ORDER_NOT_CANCELABLE"
	KindValidation            Kind = "VALIDATION_ERROR"
	KindInternal              Kind = "INTERNAL"
)

// Error is a failure with a kind and a human-readable reason.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNoLiquidity) works
// for errors created with a different message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the status code the HTTP layer reports for this kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindInstrumentUnavailable, KindOrderNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds, KindInsufficientStock, KindNoLiquidity, KindOrderNotCancelable:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is.
var (
	ErrInstrumentUnavailable = New(KindInstrumentUnavailable, "instrument not found or delisted")
	ErrInsufficientFunds     = New(KindInsufficientFunds, "insufficient funds")
	ErrInsufficientStock     = New(KindInsufficientStock, "insufficient stock")
	ErrNoLiquidity           = New(KindNoLiquidity, "no matching order available")
	ErrOrderNotFound         = New(KindOrderNotFound, "order not found")
	ErrOrderNotCancelable    = New(KindOrderNotCancelable, "order cannot be canceled")
	ErrValidation            = New(KindValidation, "invalid request")
)
