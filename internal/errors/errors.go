// Package errors defines the service error type shared by services and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeRateLimited  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError carries an HTTP status alongside a client-safe message.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail entry and returns the same error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message, nil)
}

func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HTTPStatus maps any error to a status code, defaulting to 500.
func HTTPStatus(err error) int {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
