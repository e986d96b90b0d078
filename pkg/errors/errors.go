// Package errors defines the typed error taxonomy used across the broker.
// The Type strings double as the machine-readable "error_type" values in
// API error envelopes, so they are stable identifiers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error types
const (
	// ErrConfigValidation is returned when the configuration fails validation
	ErrConfigValidation = "ConfigValidationError"

	// ErrSecretDecryption is returned when a ciphertext cannot be decrypted
	ErrSecretDecryption = "SecretDecryptionError"

	// ErrNetwork is returned when a network-level failure occurs talking to an IdP
	ErrNetwork = "NetworkError"

	// ErrProviderUnavailable is returned when the IdP answers with a 5xx status
	ErrProviderUnavailable = "ProviderUnavailable"

	// ErrUnauthorized is returned when the IdP rejects the client credentials
	ErrUnauthorized = "Unauthorized"

	// ErrScopeDenied is returned when the IdP rejects the requested scope
	ErrScopeDenied = "ScopeDenied"

	// ErrMalformedResponse is returned when the IdP response cannot be parsed
	ErrMalformedResponse = "MalformedResponse"

	// ErrTokenAcquisitionFailed wraps a provider error that reached the caller
	ErrTokenAcquisitionFailed = "TokenAcquisitionFailed"

	// ErrTokenValidationFailed is returned when an acquired token fails JWT validation
	ErrTokenValidationFailed = "TokenValidationFailed"

	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	ErrCircuitOpen = "CircuitOpen"

	// ErrRetriesExhausted is returned when all retry attempts failed
	ErrRetriesExhausted = "RetriesExhausted"

	// ErrRateLimitExceeded is returned when a request is rejected by the rate limiter
	ErrRateLimitExceeded = "RateLimitExceeded"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigValidationError creates a new config validation error
func NewConfigValidationError(message string, cause error) *Error {
	return NewError(ErrConfigValidation, message, cause)
}

// NewSecretDecryptionError creates a new secret decryption error
func NewSecretDecryptionError(message string, cause error) *Error {
	return NewError(ErrSecretDecryption, message, cause)
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *Error {
	return NewError(ErrNetwork, message, cause)
}

// NewProviderUnavailableError creates a new provider unavailable error
func NewProviderUnavailableError(message string, cause error) *Error {
	return NewError(ErrProviderUnavailable, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewScopeDeniedError creates a new scope denied error
func NewScopeDeniedError(message string, cause error) *Error {
	return NewError(ErrScopeDenied, message, cause)
}

// NewMalformedResponseError creates a new malformed response error
func NewMalformedResponseError(message string, cause error) *Error {
	return NewError(ErrMalformedResponse, message, cause)
}

// NewTokenAcquisitionFailedError creates a new token acquisition error
func NewTokenAcquisitionFailedError(message string, cause error) *Error {
	return NewError(ErrTokenAcquisitionFailed, message, cause)
}

// NewTokenValidationFailedError creates a new token validation error
func NewTokenValidationFailedError(message string, cause error) *Error {
	return NewError(ErrTokenValidationFailed, message, cause)
}

// NewCircuitOpenError creates a new circuit open error
func NewCircuitOpenError(message string, cause error) *Error {
	return NewError(ErrCircuitOpen, message, cause)
}

// NewRetriesExhaustedError creates a new retries exhausted error
func NewRetriesExhaustedError(message string, cause error) *Error {
	return NewError(ErrRetriesExhausted, message, cause)
}

// NewRateLimitExceededError creates a new rate limit exceeded error
func NewRateLimitExceededError(message string, cause error) *Error {
	return NewError(ErrRateLimitExceeded, message, cause)
}

// TypeOf returns the type of the outermost typed error in the chain,
// or the empty string if the chain contains no typed error.
func TypeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// HasType checks whether any error in the chain carries the given type.
func HasType(err error, errorType string) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == errorType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsConfigValidation checks if the error is a config validation error
func IsConfigValidation(err error) bool {
	return HasType(err, ErrConfigValidation)
}

// IsSecretDecryption checks if the error is a secret decryption error
func IsSecretDecryption(err error) bool {
	return HasType(err, ErrSecretDecryption)
}

// IsNetwork checks if the error is a network error
func IsNetwork(err error) bool {
	return HasType(err, ErrNetwork)
}

// IsProviderUnavailable checks if the error is a provider unavailable error
func IsProviderUnavailable(err error) bool {
	return HasType(err, ErrProviderUnavailable)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return HasType(err, ErrUnauthorized)
}

// IsScopeDenied checks if the error is a scope denied error
func IsScopeDenied(err error) bool {
	return HasType(err, ErrScopeDenied)
}

// IsMalformedResponse checks if the error is a malformed response error
func IsMalformedResponse(err error) bool {
	return HasType(err, ErrMalformedResponse)
}

// IsTokenAcquisitionFailed checks if the error is a token acquisition error
func IsTokenAcquisitionFailed(err error) bool {
	return HasType(err, ErrTokenAcquisitionFailed)
}

// IsTokenValidationFailed checks if the error is a token validation error
func IsTokenValidationFailed(err error) bool {
	return HasType(err, ErrTokenValidationFailed)
}

// IsCircuitOpen checks if the error is a circuit open error
func IsCircuitOpen(err error) bool {
	return HasType(err, ErrCircuitOpen)
}

// IsRetriesExhausted checks if the error is a retries exhausted error
func IsRetriesExhausted(err error) bool {
	return HasType(err, ErrRetriesExhausted)
}

// IsRateLimitExceeded checks if the error is a rate limit exceeded error
func IsRateLimitExceeded(err error) bool {
	return HasType(err, ErrRateLimitExceeded)
}

// Retriable reports whether the error represents a transient failure that
// a retry wrapper may attempt again. Unauthorized, ScopeDenied and
// MalformedResponse indicate misconfiguration and always fail fast.
func Retriable(err error) bool {
	return IsNetwork(err) || IsProviderUnavailable(err)
}
