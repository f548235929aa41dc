package emt

import (
	"errors"
	"fmt"
)

// ErrSessionExpired marks an envelope with Status -2. It is recoverable by
// exactly one re-login, handled inside the retrying request path.
var ErrSessionExpired = errors.New("session expired, please login again")

// LoginFailedError reports an inconclusive authentication run. It names the
// identity only; the secret never appears in errors or logs.
type LoginFailedError struct {
	Identity string
	Attempts int
	Err      error
}

func (e *LoginFailedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("login failed for %q after %d attempts: %v", e.Identity, e.Attempts, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("login failed for %q: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("login failed for %q: check username, password and captcha", e.Identity)
}

func (e *LoginFailedError) Unwrap() error { return e.Err }

// APIError is a structured server-side rejection (envelope Status -1).
type APIError struct {
	Message    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s (http %d)", e.Message, e.StatusCode)
}

// HTTPError is a transport-level non-200 response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %d", e.StatusCode)
}
