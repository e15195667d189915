package idp

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a credential relay failure
type Kind string

const (
	KindInvalidInput              Kind = "invalid_input"
	KindInvalidCredentials        Kind = "invalid_credentials"
	KindUpstreamUnavailable       Kind = "upstream_unavailable"
	KindMalformedUpstreamResponse Kind = "malformed_upstream_response"
	KindProviderConfigError       Kind = "provider_config_error"
)

// Reasons refine KindInvalidCredentials when the provider says why
const (
	ReasonBadCredentials        = "bad_credentials"
	ReasonAccountLocked         = "account_locked"
	ReasonUserNotConfirmed      = "user_not_confirmed"
	ReasonUserNotFound          = "user_not_found"
	ReasonAccountDisabled       = "account_disabled"
	ReasonPasswordResetRequired = "password_reset_required"
	ReasonChallengeRequired     = "challenge_required"
)

// Error is the typed failure returned by Relay and every Provider.
// Message is safe to show to the end user; Cause is for logs only.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the failure kind onto the status returned to the browser
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindMalformedUpstreamResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts an *Error from err. Errors of any other type are
// reported as a malformed upstream response so callers always get a kind.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    KindMalformedUpstreamResponse,
		Message: "Failed to parse server response",
		Cause:   err,
	}
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func invalidCredentials(reason, message string, cause error) *Error {
	if message == "" {
		message = "Invalid credentials"
	}
	return &Error{Kind: KindInvalidCredentials, Reason: reason, Message: message, Cause: cause}
}

func upstreamUnavailable(cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: "Failed to connect to authentication server",
		Cause:   cause,
	}
}

func malformedResponse(cause error) *Error {
	return &Error{
		Kind:    KindMalformedUpstreamResponse,
		Message: "Failed to parse server response",
		Cause:   cause,
	}
}

func providerConfigError(message string, cause error) *Error {
	return &Error{Kind: KindProviderConfigError, Message: message, Cause: cause}
}
