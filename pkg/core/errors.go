package core

import (
	"errors"
	"fmt"
)

// Error is the normalized error shape shared by adapters, the media bridge
// and the HTTP surface.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// Call pipeline taxonomy.
	ErrProviderUnavailable  ErrorType = "provider_unavailable"
	ErrSessionNotFound      ErrorType = "session_not_found"
	ErrConfigurationMissing ErrorType = "configuration_missing"
	ErrTransport            ErrorType = "transport_error"
	ErrMalformedMessage     ErrorType = "malformed_message"

	// HTTP surface.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
)

// NewProviderUnavailableError wraps a vendor failure for one capability.
func NewProviderUnavailableError(provider string, underlying error) *Error {
	e := &Error{
		Type:     ErrProviderUnavailable,
		Provider: provider,
		cause:    underlying,
	}
	if underlying != nil {
		e.Message = fmt.Sprintf("%s: %v", provider, underlying)
		e.ProviderError = underlying.Error()
	} else {
		e.Message = provider + ": unavailable"
	}
	return e
}

// NewSessionNotFoundError reports an unknown or expired session id.
func NewSessionNotFoundError(sessionID string) *Error {
	return &Error{
		Type:    ErrSessionNotFound,
		Message: fmt.Sprintf("session %q not found", sessionID),
		Param:   "session_id",
	}
}

// NewConfigurationMissingError reports a call with no resolvable agent configuration.
func NewConfigurationMissingError(callID string) *Error {
	return &Error{
		Type:    ErrConfigurationMissing,
		Message: fmt.Sprintf("no agent configuration for call %q", callID),
	}
}

// NewTransportError wraps a media transport failure.
func NewTransportError(underlying error) *Error {
	msg := "media transport closed"
	if underlying != nil {
		msg = underlying.Error()
	}
	return &Error{
		Type:    ErrTransport,
		Message: msg,
		cause:   underlying,
	}
}

// NewMalformedMessageError reports an inbound frame that failed to parse.
func NewMalformedMessageError(message string, underlying error) *Error {
	if underlying != nil {
		message = fmt.Sprintf("%s: %v", message, underlying)
	}
	return &Error{
		Type:    ErrMalformedMessage,
		Message: message,
		cause:   underlying,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrAPI, ErrProviderUnavailable:
		return true
	default:
		return false
	}
}

// Terminates reports whether the error ends a call session outright. Every
// other type degrades to a spoken fallback.
func (e *Error) Terminates() bool {
	switch e.Type {
	case ErrSessionNotFound, ErrTransport:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce, true
	}
	return nil, false
}

// IsType reports whether err carries the given type.
func IsType(err error, t ErrorType) bool {
	ce, ok := AsError(err)
	return ok && ce.Type == t
}
