package credential

import (
	"errors"
	"fmt"
)

// ErrNotApplicable is returned by a Strategy that has nothing to offer,
// letting the Manager move on to the next one.
var ErrNotApplicable = errors.New("credential strategy not applicable")

// ErrNoGrant is returned by a GrantStore that holds no grant.
var ErrNoGrant = errors.New("no stored grant")

// Kind classifies an AuthError.
type Kind string

const (
	// EnvironmentCredentialsInvalid means the configured client id,
	// secret and refresh token were rejected by the token endpoint.
	EnvironmentCredentialsInvalid Kind = "environment_credentials_invalid"
	// NoCredentialsAvailable means every strategy came up empty.
	NoCredentialsAvailable Kind = "no_credentials_available"
	// GrantFailed means an interactive authorization did not complete.
	GrantFailed Kind = "grant_failed"
)

// AuthError indicates that no usable mailbox credential could be built.
type AuthError struct {
	Kind     Kind
	Strategy string
	Err      error
}

func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Strategy != "" {
		msg = e.Strategy + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", msg, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", msg)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// KindOf returns the Kind of the first AuthError in err's chain.
func KindOf(err error) (Kind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}
