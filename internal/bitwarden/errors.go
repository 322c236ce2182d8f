package bitwarden

import (
	"errors"
	"fmt"
)

// maxBodyInError caps the response body quoted in error messages.
const maxBodyInError = 512

// RemoteError reports a failed call to the Vault Management API: a non-2xx
// status, an explicit `success: false`, an undecodable body, or a transport
// failure. Transport failures carry StatusCode 0.
type RemoteError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("bitwarden: %s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if body := truncate(e.Body, maxBodyInError); body != "" {
		msg += ": " + body
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transport reports whether the request never got a response.
func (e *RemoteError) Transport() bool {
	return e.StatusCode == 0
}

// AuthError reports that the vault refused to unlock.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "bitwarden: unlock rejected: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsRemoteError returns true if the error is, or wraps, a RemoteError.
func IsRemoteError(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr)
}

// IsAuthError returns true if the error is an unlock rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// errUnsuccessful is wrapped when the envelope says `success: false`.
var errUnsuccessful = errors.New("request unsuccessful")

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
