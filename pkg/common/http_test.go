package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient(t *testing.T) {
	t.Run("UserAgent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userAgent := r.Header.Get("User-Agent")
			assert.Equal(t, "PowerBox-Poller/"+strings.TrimSpace(version), userAgent, "User-Agent should match expected format")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		timeout := 5 * time.Second
		client := HTTPClient(timeout, true)

		assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
		assert.NotNil(t, client.Transport, "Transport should not be nil")

		req, err := http.NewRequest("GET", server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("SelfSignedRejectedWhenVerifying", func(t *testing.T) {
		server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		_, err := HTTPClient(5*time.Second, true).Get(server.URL)
		require.Error(t, err, "self-signed certificate should fail verification")

		resp, err := HTTPClient(5*time.Second, false).Get(server.URL)
		require.NoError(t, err, "verification disabled should accept self-signed certificate")
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("CloseIdleConnections", func(t *testing.T) {
		client := HTTPClient(time.Second, false)
		_, ok := client.Transport.(interface{ CloseIdleConnections() })
		assert.True(t, ok, "transport should expose CloseIdleConnections")
		client.CloseIdleConnections()
	})
}

func TestSleep(t *testing.T) {
	t.Run("Elapses", func(t *testing.T) {
		require.NoError(t, Sleep(context.Background(), time.Millisecond))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := Sleep(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("ZeroDuration", func(t *testing.T) {
		assert.NoError(t, Sleep(context.Background(), 0))
	})
}
