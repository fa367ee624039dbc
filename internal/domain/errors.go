package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an AppError independently of its HTTP status.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindUnauthenticated     ErrorKind = "unauthenticated"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindProviderRejected    ErrorKind = "provider_rejected"
	KindPartialFailure      ErrorKind = "partial_failure"
	KindRateLimited         ErrorKind = "rate_limited"
	KindInternal            ErrorKind = "internal"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Kind: KindNotFound, Message: msg}
}

// ErrUnauthorized is returned when the caller is known but does not own the
// resource or lacks the role for the action.
func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusForbidden, Kind: KindUnauthorized, Message: msg}
}

// ErrUnauthenticated is returned when no valid identity is attached to the request.
func ErrUnauthenticated(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Kind: KindUnauthenticated, Message: msg}
}

// ErrRateLimited is returned when a caller exhausts their request budget.
func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: http.StatusTooManyRequests, Kind: KindRateLimited, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: KindValidation, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Kind: KindValidation, Message: msg}
}

func ErrProviderUnavailable(msg string, err error) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, Kind: KindProviderUnavailable, Message: msg, Err: err}
}

func ErrProviderRejected(msg string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Kind: KindProviderRejected, Message: msg, Err: err}
}

// ErrPartialFailure reports a multi-step operation that stopped after changing
// some state. Repeating the same call resumes it.
func ErrPartialFailure(msg string, err error) *AppError {
	return &AppError{Code: http.StatusConflict, Kind: KindPartialFailure, Message: msg, Err: err}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Kind: KindInternal, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}
