package powerbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/raterudder/powerbox/pkg/types"
)

// Reasons reported by CheckConnection.
const (
	ReasonCannotConnect = "cannot_connect"
	ReasonInvalidAuth   = "invalid_auth"
	ReasonTimeout       = "timeout"
	ReasonUnavailable   = "unavailable"
	ReasonUnknown       = "unknown"
)

// CheckError explains why CheckConnection failed.
type CheckError struct {
	Reason string
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// CheckConnection tries a single login with creds, without retries, and
// classifies any failure.
func CheckConnection(ctx context.Context, creds types.Credentials) error {
	c := New(creds)
	defer c.Close()
	return c.check(ctx)
}

func (c *Client) check(ctx context.Context) error {
	_, err := c.postAuth(ctx)
	if err == nil {
		return nil
	}
	return &CheckError{Reason: checkReason(err), Err: err}
}

func checkReason(err error) string {
	var authErr *AuthError
	var netErr net.Error
	switch {
	case errors.As(err, &authErr) && (authErr.StatusCode == http.StatusUnauthorized || authErr.StatusCode == http.StatusForbidden):
		return ReasonInvalidAuth
	case errors.Is(err, ErrServiceUnavailable):
		return ReasonUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.Is(err, ErrConnection):
		return ReasonCannotConnect
	default:
		return ReasonUnknown
	}
}
