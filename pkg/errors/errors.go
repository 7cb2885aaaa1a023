package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable code returned to clients
type ErrorCode string

const (
	CodeValidation             ErrorCode = "validation_error"
	CodeConflict               ErrorCode = "conflict"
	CodeInvalidStateTransition ErrorCode = "invalid_state_transition"
	CodeRefillExhausted        ErrorCode = "refill_exhausted"
	CodeNotFound               ErrorCode = "not_found"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeForbidden              ErrorCode = "forbidden"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodePayloadTooLarge        ErrorCode = "payload_too_large"
	CodeTimeout                ErrorCode = "timeout"
	CodeInternal               ErrorCode = "internal_error"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
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

// StatusCode maps the error code to an HTTP status
func (e *AppError) StatusCode() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict, CodeInvalidStateTransition:
		return http.StatusConflict
	case CodeRefillExhausted:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Err: err}
}

func Conflict(message string, err error) *AppError {
	if message == "" {
		message = "already processed"
	}
	return &AppError{Code: CodeConflict, Message: message, Err: err}
}

func InvalidStateTransition(entity string, from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("%s cannot move from %q to %q", entity, from, to),
	}
}

func RefillExhausted() *AppError {
	return &AppError{
		Code:    CodeRefillExhausted,
		Message: "no refills remaining on this prescription; please start a new consultation",
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource), Err: err}
}

func Unauthorized(err error) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: "unauthorized", Err: err}
}

func Forbidden(message string) *AppError {
	if message == "" {
		message = "permission denied"
	}
	return &AppError{Code: CodeForbidden, Message: message}
}

func RateLimited() *AppError {
	return &AppError{Code: CodeRateLimited, Message: "rate limit exceeded"}
}

func PayloadTooLarge(limit int64) *AppError {
	return &AppError{Code: CodePayloadTooLarge, Message: fmt.Sprintf("request body exceeds %d bytes", limit)}
}

func Timeout(err error) *AppError {
	return &AppError{Code: CodeTimeout, Message: "request timed out", Err: err}
}

func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal server error", Err: err}
}

// As extracts an *AppError from an error chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
