package core

import (
	"fmt"
	"net/http"
)

// ErrorType classifies analytics errors for HTTP mapping.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a client error (4xx), e.g. a task
	// profile with negative token counts or eta outside [0,1].
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeNotFound indicates an unknown model or family (404).
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeUnavailable indicates a model with no spot price or theta:
	// the operation is skipped and reported, never silently defaulted.
	ErrorTypeUnavailable ErrorType = "unavailable_error"
	// ErrorTypeStorage indicates a persistence failure (5xx).
	ErrorTypeStorage ErrorType = "storage_error"
	// ErrorTypeAuthentication indicates a missing or invalid API key (401).
	ErrorTypeAuthentication ErrorType = "authentication_error"
)

// AnalyticsError is the boundary error type for all caller-facing failures.
// Core formulas never return it; validation and lookup layers do.
type AnalyticsError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *AnalyticsError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *AnalyticsError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *AnalyticsError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *AnalyticsError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *AnalyticsError {
	return &AnalyticsError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *AnalyticsError {
	return &AnalyticsError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewUnavailableError reports missing model data (no spot or no theta).
func NewUnavailableError(message string) *AnalyticsError {
	return &AnalyticsError{
		Type:       ErrorTypeUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewStorageError creates a new storage error (500)
func NewStorageError(message string, err error) *AnalyticsError {
	return &AnalyticsError{
		Type:       ErrorTypeStorage,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *AnalyticsError {
	return &AnalyticsError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}
