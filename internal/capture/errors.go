package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrBindExhausted means no candidate port could be bound. The browser
	// is never opened in this case.
	ErrBindExhausted = errors.New("no candidate port available")

	// ErrSecretMismatch means a callback carried the wrong session secret,
	// for example from a stale browser tab.
	ErrSecretMismatch = errors.New("callback secret does not match session")

	// ErrMissingToken means the callback had neither a token nor an error.
	ErrMissingToken = errors.New("callback did not contain an access token")

	// ErrCancelled means Cancel was called or the start context ended.
	ErrCancelled = errors.New("authorization cancelled")

	// ErrTimedOut means the session timeout elapsed before a callback.
	ErrTimedOut = errors.New("authorization timed out")

	// ErrConfiguration means the session options are unusable.
	ErrConfiguration = errors.New("invalid capture configuration")

	// ErrListener means the local server failed after binding.
	ErrListener = errors.New("callback listener failed")

	// ErrVerification means the Verifier rejected a received token.
	ErrVerification = errors.New("token verification failed")
)

// ProviderError is an explicit error reported by the identity provider in
// the redirect fragment.
type ProviderError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity provider returned %s", e.Code)
	}
	return fmt.Sprintf("identity provider returned %s: %s", e.Code, e.Description)
}

// IsAuthorizationFailure reports whether err means the provider round trip
// completed but did not yield a usable token.
func IsAuthorizationFailure(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) ||
		errors.Is(err, ErrSecretMismatch) ||
		errors.Is(err, ErrMissingToken) ||
		errors.Is(err, ErrVerification)
}

// IsAborted reports whether err is a cancellation or a timeout.
func IsAborted(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimedOut)
}
