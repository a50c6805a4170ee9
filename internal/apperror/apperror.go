// Package apperror defines the stable error taxonomy shared by every
// service, handler, and gateway in the collaboration hub.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrSandboxUnavailable = errors.New("sandbox unavailable")
	ErrExecutionTimeout   = errors.New("execution timeout")
	ErrOutputLimit        = errors.New("output limit exceeded")
	ErrTransient          = errors.New("transient failure")
	ErrInconsistentState  = errors.New("inconsistent state")
	ErrInternal           = errors.New("internal error")
)

// AppError carries a stable kind, a human-readable message, and an optional
// field name, preserving the underlying cause via Unwrap for errors.Is/As.
type AppError struct {
	Err     error
	Message string
	Field   string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(kind error, message string, field string) *AppError {
	return &AppError{Err: kind, Message: message, Field: field}
}

func Unauthenticated(message string) *AppError {
	return newError(ErrUnauthenticated, message, "")
}

func Forbidden(message string) *AppError {
	return newError(ErrForbidden, message, "")
}

func NotFound(resource, id string) *AppError {
	return newError(ErrNotFound, fmt.Sprintf("%s not found with id %s", resource, id), "")
}

func ValidationFailed(field, message string) *AppError {
	return newError(ErrValidation, message, field)
}

func Conflict(resource, id string) *AppError {
	return newError(ErrConflict, fmt.Sprintf("%s conflict with id %s", resource, id), "")
}

func RateLimited(message string) *AppError {
	return newError(ErrRateLimited, message, "")
}

func SandboxUnavailable(message string) *AppError {
	return newError(ErrSandboxUnavailable, message, "")
}

func ExecutionTimeout(message string) *AppError {
	return newError(ErrExecutionTimeout, message, "")
}

func OutputLimitExceeded(message string) *AppError {
	return newError(ErrOutputLimit, message, "")
}

func Transient(message string) *AppError {
	return newError(ErrTransient, message, "")
}

func InconsistentState(message string) *AppError {
	return newError(ErrInconsistentState, message, "")
}

func Internal(message string) *AppError {
	return newError(ErrInternal, message, "")
}
