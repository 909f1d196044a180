// Package errors defines unified error types for gateway operations.
// Backend- and provider-specific failures are mapped to these standard types
// before they reach a caller.
package errors

import (
	"fmt"
	"net/http"
)

// GatewayError represents a standardized error raised while handling a request.
// It contains everything needed for error handling, logging, and the client response.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, code=%d)", e.Type, e.Message, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeConfiguration      = "configuration_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeForbidden          = "forbidden_error"
	TypeUpstream           = "upstream_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewConfigurationError creates a terminal configuration error (500).
// The message should guide remediation, not just report the absence.
func NewConfigurationError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeConfiguration,
		Retryable:  false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Retryable:  true,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Retryable:  false,
	}
}

// NewForbiddenError creates a forbidden error (403).
func NewForbiddenError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusForbidden,
		Message:    message,
		Type:       TypeForbidden,
		Retryable:  false,
	}
}

// NewUpstreamError creates an upstream failure error (502) attributed to a provider.
func NewUpstreamError(provider, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeUpstream,
		Provider:   provider,
		Retryable:  true,
	}
}

// NewUpstreamRateLimitError creates a rate limit error (429) attributed to a provider.
func NewUpstreamRateLimitError(provider, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Retryable:  false,
	}
}
