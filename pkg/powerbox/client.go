package powerbox

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/powerbox/pkg/common"
	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/retry"
	"github.com/raterudder/powerbox/pkg/types"
)

const (
	// DefaultTimeout applies to every request sent to the device.
	DefaultTimeout = 20 * time.Second

	authAttempts   = 3
	authRetryStep  = 3 * time.Second
	fetchAttempts  = 2
	fetchRetryStep = 2 * time.Second

	endpointAuth = "auth"
	// EndpointMeters returns realtime measurements.
	EndpointMeters = "meters"
	// EndpointConfigs returns device configuration parameters.
	EndpointConfigs = "configs"
)

// Client talks to a single PowerBox. It owns the HTTP session and bearer
// token and is safe for concurrent use by multiple coordinators.
type Client struct {
	creds   types.Credentials
	baseURL string
	timeout time.Duration
	sleep   retry.SleepFunc

	// authMu serializes logins so concurrent 401s renew the token once
	authMu sync.Mutex

	mu              sync.Mutex
	session         *http.Client
	token           string
	errorCount      int
	lastErrorTime   time.Time
	sessionsCreated int
}

// Stats is a point-in-time view of the client's failure tracking.
type Stats struct {
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	LastErrorTime     time.Time `json:"lastErrorTime,omitzero"`
	SessionsCreated   int       `json:"sessionsCreated"`
	HasToken          bool      `json:"hasToken"`
}

// Option customizes a Client built by New.
type Option func(*Client)

// WithTimeout sets the timeout applied to every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithSleep replaces the wait between retry attempts.
func WithSleep(fn retry.SleepFunc) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// New returns a client for the given credentials.
func New(creds types.Credentials, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		baseURL: creds.BaseURL(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured registers the device flags and returns a client that is usable
// once lflag.Configure has run.
func Configured() *Client {
	host := lflag.RequiredString("powerbox-host", "Hostname or IP address of the PowerBox")
	username := lflag.String("powerbox-username", types.DefaultUsername, "Username for the PowerBox local API")
	password := lflag.RequiredString("powerbox-password", "Password for the PowerBox local API")
	verifyTLS := lflag.Bool("powerbox-verify-tls", false, "Verify the PowerBox TLS certificate (it is usually self-signed)")
	timeout := lflag.Duration("powerbox-timeout", DefaultTimeout, "Timeout for each request sent to the PowerBox")

	c := &Client{}
	lflag.Do(func() {
		c.creds = types.Credentials{
			Host:      *host,
			Username:  *username,
			Password:  *password,
			VerifyTLS: *verifyTLS,
		}
		c.baseURL = c.creds.BaseURL()
		c.timeout = *timeout
	})
	return c
}

// Credentials returns the credentials the client was created with.
func (c *Client) Credentials() types.Credentials {
	return c.creds
}

func (c *Client) retryPolicy(attempts int, step time.Duration) retry.Policy {
	return retry.Policy{
		Attempts: attempts,
		Delay:    retry.Linear(step),
		Sleep:    c.sleep,
	}
}

// getSession returns the current transport session, creating one if it was
// torn down.
func (c *Client) getSession() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		timeout := c.timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.session = common.HTTPClient(timeout, c.creds.VerifyTLS)
		c.sessionsCreated++
	}
	return c.session
}

// resetSession tears down the transport session. The token goes with it so
// the next request re-authenticates.
func (c *Client) resetSession(ctx context.Context) {
	c.mu.Lock()
	old := c.session
	c.session = nil
	c.token = ""
	c.mu.Unlock()

	if old != nil {
		old.CloseIdleConnections()
		log.Ctx(ctx).DebugContext(ctx, "powerbox session reset")
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// invalidateToken clears the token only if it is still the one that was
// rejected; another caller may already have renewed it.
func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount = 0
}

func (c *Client) recordFailure(ctx context.Context) {
	c.mu.Lock()
	c.errorCount++
	c.lastErrorTime = time.Now()
	count := c.errorCount
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "powerbox consecutive errors", slog.Int("count", count))
}

// ConsecutiveErrors returns how many fetches or logins in a row exhausted
// their retries.
func (c *Client) ConsecutiveErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount
}

// Stats returns the client's failure tracking.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ConsecutiveErrors: c.errorCount,
		LastErrorTime:     c.lastErrorTime,
		SessionsCreated:   c.sessionsCreated,
		HasToken:          c.token != "",
	}
}

// Close tears down the transport session.
func (c *Client) Close() error {
	c.resetSession(context.Background())
	return nil
}
