package common

import (
	"context"
	"crypto/tls"
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// UserAgent is sent on every request to the device.
func UserAgent() string {
	return "PowerBox-Poller/" + strings.TrimSpace(version)
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a new http client with its own connection pool and a
// default user-agent set. Devices typically present a self-signed
// certificate so verifyTLS=false disables certificate validation.
func HTTPClient(timeout time.Duration, verifyTLS bool) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if !verifyTLS {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Transport: &userAgentTransport{
			transport: base,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *userAgentTransport) CloseIdleConnections() {
	if ct, ok := t.transport.(interface{ CloseIdleConnections() }); ok {
		ct.CloseIdleConnections()
	}
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() if the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
