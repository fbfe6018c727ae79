package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the kiosk session lifecycle
var (
	// Login flow errors
	ErrStateMismatch          = errors.New("oauth state mismatch")
	ErrCallbackExchangeFailed = errors.New("callback code exchange failed")
	ErrMissingCallbackParams  = errors.New("missing required callback parameters")
	ErrProviderDenied         = errors.New("identity provider denied authorization")

	// Token errors
	ErrAuthorizationFailure = errors.New("authorization failure")
	ErrRefreshFailed        = errors.New("session refresh failed")
	ErrNotAuthenticated     = errors.New("not authenticated")

	// Transport errors
	ErrNetwork = errors.New("network error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Tag marks cause with a taxonomy sentinel so that both match errors.Is
func Tag(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	if errors.Is(cause, sentinel) {
		return cause
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
