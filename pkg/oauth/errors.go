package oauth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the OAuth client pipeline.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindDiscoveryMalformed means a metadata document lacked a required field.
	KindDiscoveryMalformed
	// KindDiscoveryNotFound means no metadata document exists at either tier.
	KindDiscoveryNotFound
	// KindDiscoveryTransportFailure covers network errors, unexpected status
	// codes and non-JSON metadata bodies.
	KindDiscoveryTransportFailure
	// KindRegistrationUnavailable means no client id could be obtained.
	KindRegistrationUnavailable
	// KindStateMismatch means the callback state did not match the request.
	KindStateMismatch
	// KindCallbackTimeout means no redirect arrived in time.
	KindCallbackTimeout
	// KindCallbackMissingParams means the redirect lacked code or state.
	KindCallbackMissingParams
	// KindCallbackAuthorizationDenied means the authorization server returned an error.
	KindCallbackAuthorizationDenied
	// KindTokenExchangeFailed means the token endpoint rejected the request.
	KindTokenExchangeFailed
	// KindMissingAccessToken means a successful token response had no access_token.
	KindMissingAccessToken
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindDiscoveryMalformed:
		return "DiscoveryMalformed"
	case KindDiscoveryNotFound:
		return "DiscoveryNotFound"
	case KindDiscoveryTransportFailure:
		return "DiscoveryTransportFailure"
	case KindRegistrationUnavailable:
		return "RegistrationUnavailable"
	case KindStateMismatch:
		return "StateMismatch"
	case KindCallbackTimeout:
		return "CallbackTimeout"
	case KindCallbackMissingParams:
		return "CallbackMissingParams"
	case KindCallbackAuthorizationDenied:
		return "CallbackAuthorizationDenied"
	case KindTokenExchangeFailed:
		return "TokenExchangeFailed"
	case KindMissingAccessToken:
		return "MissingAccessToken"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by this package and by the interactive
// flow built on it. Use errors.Is with one of the Err* sentinels, or IsKind,
// to branch on the failure class.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrDiscoveryMalformed          = &Error{Kind: KindDiscoveryMalformed}
	ErrDiscoveryNotFound           = &Error{Kind: KindDiscoveryNotFound}
	ErrDiscoveryTransportFailure   = &Error{Kind: KindDiscoveryTransportFailure}
	ErrRegistrationUnavailable     = &Error{Kind: KindRegistrationUnavailable}
	ErrStateMismatch               = &Error{Kind: KindStateMismatch}
	ErrCallbackTimeout             = &Error{Kind: KindCallbackTimeout}
	ErrCallbackMissingParams       = &Error{Kind: KindCallbackMissingParams}
	ErrCallbackAuthorizationDenied = &Error{Kind: KindCallbackAuthorizationDenied}
	ErrTokenExchangeFailed         = &Error{Kind: KindTokenExchangeFailed}
	ErrMissingAccessToken          = &Error{Kind: KindMissingAccessToken}
)

// NewError creates an *Error of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an *Error of the given kind wrapping err.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		return false
	}
	return oauthErr.Kind == kind
}
