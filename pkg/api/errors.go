package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeInvalidArgument  ErrorType = "invalid_argument"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeUnauthenticated  ErrorType = "unauthenticated"
	ErrorTypePermissionDenied ErrorType = "permission_denied"
	ErrorTypeUnavailable      ErrorType = "unavailable"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeUpstream         ErrorType = "upstream"
)

// APIError represents a structured error with type, param, and message.
//
// Upstream errors carry the status code reported by the runtime so that the
// transport can pass them through without translation.
type APIError struct {
	Type    ErrorType `json:"type"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
	Status  int       `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewInvalidArgumentError creates an APIError for malformed client input.
func NewInvalidArgumentError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidArgument,
		Param:   param,
		Message: message,
	}
}

// InvalidArgumentf is a convenience wrapper around NewInvalidArgumentError
// for messages without a param.
func InvalidArgumentf(format string, args ...any) *APIError {
	return NewInvalidArgumentError("", fmt.Sprintf(format, args...))
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewUnauthenticatedError creates an APIError for missing or invalid credentials.
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthenticated,
		Message: message,
	}
}

// NewPermissionDeniedError creates an APIError for an authenticated caller
// that may not use the requested resource.
func NewPermissionDeniedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypePermissionDenied,
		Message: message,
	}
}

// NewUnavailableError creates an APIError for a runtime that cannot serve yet.
func NewUnavailableError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnavailable,
		Message: message,
	}
}

// NewInternalError creates an APIError for internal server errors.
func NewInternalError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}

// NewUpstreamError creates an APIError for a failure reported by the runtime.
// A status of 0 is written as 500.
func NewUpstreamError(status int, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUpstream,
		Message: message,
		Status:  status,
	}
}

// AsAPIError returns err as an *APIError. Errors that are not API errors are
// wrapped as internal errors.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err.Error())
}

// IsInvalidArgument reports whether err is an invalid_argument API error.
func IsInvalidArgument(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == ErrorTypeInvalidArgument
}
