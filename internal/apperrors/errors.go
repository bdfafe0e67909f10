package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and for the redelivery policy.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindInvalidOperation  Kind = "INVALID_OPERATION"
	KindValidation        Kind = "VALIDATION"
	KindTransient         Kind = "TRANSIENT"
)

// Error is an application error carrying its Kind.
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

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidOperation  = &Error{Kind: KindInvalidOperation}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrTransient         = &Error{Kind: KindTransient}
)

func NotFound(resource string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found with id: %v", resource, id)}
}

func InsufficientStock(productID int64, requested, available int) *Error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: fmt.Sprintf("Insufficient stock for product %d. Requested: %d, Available: %d", productID, requested, available),
	}
}

func InvalidOperation(operation, reason string) *Error {
	return &Error{Kind: KindInvalidOperation, Message: fmt.Sprintf("Cannot %s: %s", operation, reason)}
}

func Validation(field string, value any, reason string) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf("invalid %s %v: %s", field, value, reason)}
}

// Malformed wraps a decode failure. It is terminal: the payload will not change.
func Malformed(what string, err error) *Error {
	return &Error{Kind: KindValidation, Message: "malformed " + what, Err: err}
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Message: op, Err: err}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
// Errors that carry no Kind are treated as transient.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// Retryable reports whether redelivering may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return KindOf(err) == KindTransient
}
