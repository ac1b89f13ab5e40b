package powerbox

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection wraps transport-level failures: timeouts, resets,
	// refused connections, truncated bodies.
	ErrConnection = errors.New("powerbox connection error")

	// ErrServiceUnavailable is returned when the device answers 503.
	ErrServiceUnavailable = errors.New("powerbox temporarily unavailable")

	// ErrTerminalAuth is matched by every *AuthError.
	ErrTerminalAuth = errors.New("powerbox rejected authentication")

	// ErrProtocol is returned when a response is missing expected fields or
	// is not the expected JSON shape.
	ErrProtocol = errors.New("unexpected powerbox response")

	// ErrAuthUnreachable is returned when every authentication attempt failed
	// at the connection level.
	ErrAuthUnreachable = errors.New("powerbox unreachable during authentication")

	// ErrFetchFailed is returned when a fetch exhausted its retries.
	ErrFetchFailed = errors.New("powerbox fetch failed")
)

// AuthError is a terminal authentication failure: a non-503 error from /auth,
// a second 401 after renewing the token, or any other 4xx.
type AuthError struct {
	Endpoint   string
	StatusCode int
	// Renewed is set when the token was renewed and the retry was still
	// rejected.
	Renewed bool
}

func (e *AuthError) Error() string {
	if e.Renewed {
		return fmt.Sprintf("%s: status %d after token renewal", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d", e.Endpoint, e.StatusCode)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrTerminalAuth
}

// StatusError is an unexpected non-4xx status that is not retried.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// IsRecoverable reports whether err is a transient condition that the next
// poll cycle may not see again.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrAuthUnreachable) ||
		errors.Is(err, ErrFetchFailed)
}

func connectionError(err error) error {
	return fmt.Errorf("%w: %w", ErrConnection, err)
}
