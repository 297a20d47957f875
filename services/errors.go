package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeStrategyNotFound ErrorType = "strategy_not_found"
	ErrorTypeOriginRejected   ErrorType = "origin_rejected"
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypePayloadTooLarge  ErrorType = "payload_too_large"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeInternal         ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error carrying an extra detail.
// Package-level sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Type: e.Type, Message: e.Message, Err: e.Err, Details: details}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	ErrRouteNotFound = NewDomainError(ErrorTypeNotFound, "Endpoint not found", nil)
	ErrUserNotFound  = NewDomainError(ErrorTypeNotFound, "user not found", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidJSON  = NewDomainError(ErrorTypeValidation, "invalid JSON body", nil)

	ErrOriginRejected     = NewDomainError(ErrorTypeOriginRejected, "Origin not allowed by CORS policy", nil)
	ErrRateLimitExceeded  = NewDomainError(ErrorTypeRateLimit, "Too many requests from this IP, please try again later.", nil)
	ErrPayloadTooLarge    = NewDomainError(ErrorTypePayloadTooLarge, "request entity too large", nil)
	ErrDuplicateEmail     = NewDomainError(ErrorTypeConflict, "email already registered", nil)
	ErrInternal           = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrBackendUnavailable = NewDomainError(ErrorTypeInternal, "identity backend unavailable", nil)
)

// AuthReason is the machine-readable cause of an authentication failure.
type AuthReason string

const (
	ReasonInvalidCredentials AuthReason = "invalid-credentials"
	ReasonExpiredToken       AuthReason = "expired-token"
	ReasonMalformedToken     AuthReason = "malformed-token"
	ReasonStrategyNotFound   AuthReason = "strategy-not-found"
)

// AuthError is a failed strategy invocation, tagged with the strategy that
// produced it. Err is kept for logs only.
type AuthError struct {
	Strategy string
	Reason   AuthReason
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s, %s): %v", e.Strategy, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s, %s)", e.Strategy, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Message is the caller-safe description of the failure.
func (e *AuthError) Message() string {
	switch e.Reason {
	case ReasonExpiredToken:
		return "token has expired"
	case ReasonMalformedToken:
		return "token is malformed or has an invalid signature"
	case ReasonStrategyNotFound:
		return "authentication strategy not available"
	default:
		return "invalid credentials"
	}
}

// NewAuthError creates an AuthError.
func NewAuthError(strategy string, reason AuthReason, err error) *AuthError {
	return &AuthError{Strategy: strategy, Reason: reason, Err: err}
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsRouteNotFound reports whether err is the unmatched-route sentinel.
// DomainError.Is matches by type, so other not-found errors need the
// identity check to stay distinct.
func IsRouteNotFound(err error) bool {
	var de *DomainError
	return errors.As(err, &de) && de == ErrRouteNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an authentication failure,
// either a DomainError or an AuthError for a resolved strategy.
func IsUnauthorizedError(err error) bool {
	if authErr, ok := AsAuthError(err); ok {
		return authErr.Reason != ReasonStrategyNotFound
	}
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsStrategyNotFoundError checks if an error names an unknown or unsuitable strategy.
func IsStrategyNotFoundError(err error) bool {
	if authErr, ok := AsAuthError(err); ok {
		return authErr.Reason == ReasonStrategyNotFound
	}
	return GetErrorType(err) == ErrorTypeStrategyNotFound
}

// IsOriginRejectedError checks if an error is an origin rejection
func IsOriginRejectedError(err error) bool {
	return GetErrorType(err) == ErrorTypeOriginRejected
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsPayloadTooLargeError checks if an error is a size-limit rejection
func IsPayloadTooLargeError(err error) bool {
	return GetErrorType(err) == ErrorTypePayloadTooLarge
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// AsAuthError extracts an AuthError from the chain.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the caller-safe message of a structured error.
func GetErrorMessage(err error) string {
	if authErr, ok := AsAuthError(err); ok {
		return authErr.Message()
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ""
}

// WrapInternal wraps an error as an internal error. It is the only kind
// allowed to carry an opaque cause.
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
