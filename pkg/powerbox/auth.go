package powerbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/retry"
)

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResult struct {
	IDToken string `json:"id_token"`
}

// Authenticate exchanges the credentials for a fresh bearer token and stores
// it. Connection failures are retried; 503, rejected credentials and
// malformed responses are returned immediately.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	token, err := c.login(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthUnreachable) {
			c.recordFailure(ctx)
		}
		return "", err
	}
	c.recordSuccess()
	return token, nil
}

// ensureToken returns a usable token, logging in if needed. stale is a token
// the caller saw rejected; if someone else already replaced it while we
// waited for authMu, their token is reused instead of logging in again.
func (c *Client) ensureToken(ctx context.Context, stale string) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if tok := c.currentToken(); tok != "" && tok != stale {
		return tok, nil
	}
	return c.login(ctx)
}

// login must be called with authMu held.
func (c *Client) login(ctx context.Context) (string, error) {
	var token string
	err := retry.Do(ctx, c.retryPolicy(authAttempts, authRetryStep), func(ctx context.Context, attempt int) error {
		tok, err := c.postAuth(ctx)
		if err == nil {
			token = tok
			return nil
		}
		if errors.Is(err, ErrConnection) {
			log.Ctx(ctx).WarnContext(ctx, "powerbox login attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))
			c.resetSession(ctx)
			return err
		}
		return retry.Stop(err)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			log.Ctx(ctx).ErrorContext(ctx, "powerbox login failed", slog.Int("attempts", exhausted.Attempts), slog.Any("error", err))
			return "", fmt.Errorf("%w: %w", ErrAuthUnreachable, err)
		}
		return "", err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "powerbox login success", slog.String("username", c.creds.Username))
	return token, nil
}

// postAuth performs a single POST /auth.
func (c *Client) postAuth(ctx context.Context) (string, error) {
	req, err := c.newPostJSONRequest(ctx, endpointAuth, authRequest{
		Username: c.creds.Username,
		Password: c.creds.Password,
	})
	if err != nil {
		return "", err
	}

	status, body, err := c.do(req)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusServiceUnavailable:
		log.Ctx(ctx).WarnContext(ctx, "powerbox temporarily unavailable during login")
		return "", fmt.Errorf("%s: %w", endpointAuth, ErrServiceUnavailable)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "powerbox login rejected", slog.Int("status", status))
		return "", &AuthError{Endpoint: endpointAuth, StatusCode: status}
	}

	var res authResult
	if err := json.Unmarshal(body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode powerbox auth response", slog.Any("error", err))
		return "", fmt.Errorf("%w: decoding auth response: %w", ErrProtocol, err)
	}
	if res.IDToken == "" {
		return "", fmt.Errorf("%w: auth response has no id_token", ErrProtocol)
	}
	return res.IDToken, nil
}
