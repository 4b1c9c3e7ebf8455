package llm

import "fmt"

// GatewayError is the base error type for all llm package errors.
type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// RateLimitedError indicates the backend rejected the request with a rate
// limit. Retryable; RetryAfter (seconds) is honored when the backend sent it.
type RateLimitedError struct {
	GatewayError
	Provider   string
	RetryAfter *float64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("[%s] rate limited: %s", e.Provider, e.Message)
}

// UpstreamError indicates a transient backend failure (5xx, timeout, network).
// Retryable a bounded number of times before being treated as fatal.
type UpstreamError struct {
	GatewayError
	Provider   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] upstream error (status=%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] upstream error: %s", e.Provider, e.Message)
}

// InvalidRequestError indicates a malformed prompt or tool schema. Never
// retried: it points at a bug in schema translation, not a transient
// condition, and must propagate to the caller.
type InvalidRequestError struct {
	GatewayError
	Provider   string
	StatusCode int
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("[%s] invalid request: %s", e.Provider, e.Message)
}

// AbortError indicates the caller cancelled the request.
type AbortError struct{ GatewayError }

// ConfigurationError indicates the client itself is misconfigured
// (no adapter registered, no provider resolvable).
type ConfigurationError struct{ GatewayError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) error {
	base := GatewayError{Message: message}
	switch {
	case statusCode == 429:
		return &RateLimitedError{GatewayError: base, Provider: provider, RetryAfter: retryAfter}
	case statusCode == 408:
		return &UpstreamError{GatewayError: base, Provider: provider, StatusCode: statusCode}
	case statusCode >= 400 && statusCode < 500:
		return &InvalidRequestError{GatewayError: base, Provider: provider, StatusCode: statusCode}
	default:
		return &UpstreamError{GatewayError: base, Provider: provider, StatusCode: statusCode}
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch err.(type) {
	case *RateLimitedError:
		return true
	case *UpstreamError:
		return true
	case *InvalidRequestError:
		return false
	case *AbortError:
		return false
	case *ConfigurationError:
		return false
	default:
		// Errors outside the taxonomy are not transient by assumption;
		// retrying them just delays the failure.
		return false
	}
}
