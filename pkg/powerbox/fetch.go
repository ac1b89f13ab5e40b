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
	"github.com/raterudder/powerbox/pkg/types"
)

// Fetch GETs the named endpoint and returns the raw JSON body.
//
// A 401 renews the token once and retries once. 503 and connection failures
// are retried with a linear backoff; connection failures also tear down the
// session. When retries run out the result wraps ErrFetchFailed and the
// consecutive error count goes up. A body that is not a JSON list is
// ErrProtocol; it is not retried but also counts as a consecutive error.
// Only a usable body resets the count.
func (c *Client) Fetch(ctx context.Context, endpoint string) (json.RawMessage, error) {
	var body json.RawMessage
	err := retry.Do(ctx, c.retryPolicy(fetchAttempts, fetchRetryStep), func(ctx context.Context, attempt int) error {
		b, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			body = b
			return nil
		}
		switch {
		case errors.Is(err, ErrAuthUnreachable):
			// login already spent its own retries
			return retry.Stop(err)
		case errors.Is(err, ErrConnection):
			log.Ctx(ctx).WarnContext(ctx, "powerbox fetch attempt failed", slog.String("endpoint", endpoint), slog.Int("attempt", attempt), slog.Any("error", err))
			c.resetSession(ctx)
			return err
		case errors.Is(err, ErrServiceUnavailable):
			log.Ctx(ctx).WarnContext(ctx, "powerbox temporarily unavailable", slog.String("endpoint", endpoint), slog.Int("attempt", attempt))
			return err
		default:
			return retry.Stop(err)
		}
	})
	if err == nil {
		c.recordSuccess()
		return body, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) || errors.Is(err, ErrAuthUnreachable) {
		c.recordFailure(ctx)
		log.Ctx(ctx).ErrorContext(ctx, "powerbox fetch failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, endpoint, err)
	}
	if errors.Is(err, ErrProtocol) {
		c.recordFailure(ctx)
		log.Ctx(ctx).ErrorContext(ctx, "powerbox fetch returned an unusable body", slog.String("endpoint", endpoint), slog.Any("error", err))
		return nil, err
	}
	if ctx.Err() == nil {
		log.Ctx(ctx).ErrorContext(ctx, "powerbox fetch error", slog.String("endpoint", endpoint), slog.Any("error", err))
	}
	return nil, err
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) (json.RawMessage, error) {
	token, err := c.ensureToken(ctx, "")
	if err != nil {
		return nil, err
	}

	status, body, err := c.get(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		log.Ctx(ctx).DebugContext(ctx, "powerbox token expired", slog.String("endpoint", endpoint))
		c.invalidateToken(token)
		token, err = c.ensureToken(ctx, token)
		if err != nil {
			return nil, err
		}
		status, body, err = c.get(ctx, endpoint, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.invalidateToken(token)
			return nil, &AuthError{Endpoint: endpoint, StatusCode: status, Renewed: true}
		}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%s: %w", endpoint, ErrServiceUnavailable)
	case status >= 400 && status < 500:
		return nil, &AuthError{Endpoint: endpoint, StatusCode: status}
	default:
		return nil, &StatusError{Endpoint: endpoint, StatusCode: status}
	}

	// every collection endpoint answers with a list
	if _, err := decodeList(body, endpoint); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "unexpected body from powerbox", slog.String("endpoint", endpoint), slog.String("body", string(body)))
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, endpoint, token string) (int, []byte, error) {
	req, err := c.newGetRequest(ctx, endpoint, token)
	if err != nil {
		return 0, nil, err
	}
	return c.do(req)
}

// Meters fetches and parses GET /meters.
func (c *Client) Meters(ctx context.Context) (types.MeterSnapshot, error) {
	raw, err := c.Fetch(ctx, EndpointMeters)
	if err != nil {
		return nil, err
	}
	return ParseMeters(ctx, raw)
}

// Configs fetches and parses GET /configs.
func (c *Client) Configs(ctx context.Context) (types.ConfigSnapshot, error) {
	raw, err := c.Fetch(ctx, EndpointConfigs)
	if err != nil {
		return nil, err
	}
	return ParseConfigs(ctx, raw)
}
