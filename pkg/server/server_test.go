package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/powerbox/pkg/coordinator"
	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var (
	testCreds = types.Credentials{
		Host:     "192.168.1.50",
		Username: "installer",
		Password: "hunter2",
	}
	realtimeStatus = coordinator.Status{
		Name:                "realtime",
		State:               coordinator.StateDegraded,
		Available:           true,
		Stale:               true,
		LastSuccess:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PollIntervalSeconds: 120,
		LastError:           "powerbox fetch failed",
	}
	configStatus = coordinator.Status{
		Name:                "config",
		State:               coordinator.StateSuccess,
		Available:           true,
		PollIntervalSeconds: 600,
	}
	meterSnap = types.MeterSnapshot{
		types.MeterVirtual: {
			Connected:    true,
			ID:           "0",
			Manufacturer: "Mobilize",
			Serial:       "SN-SECRET-1",
			Values:       map[string]types.MeterValue{"Current_mA": {Value: 16000, Timestamp: 1}},
		},
	}
	configSnap = types.ConfigSnapshot{
		types.ConfigChargerMode: {ModuleName: "ChargerMode", ConfigName: "CurrentSet", Value: "Always"},
		"Cloud.password":        {ModuleName: "Cloud", ConfigName: "password", Value: "cloud-secret"},
		"Cloud.Endpoint": {
			ModuleName: "Cloud",
			ConfigName: "Endpoint",
			Value:      "https://example.invalid",
			Metadata:   map[string]json.RawMessage{"token": json.RawMessage(`"tok-secret"`), "unit": json.RawMessage(`"url"`)},
		},
	}
)

func newTestServer() (*Server, *mockDevice, *mockRealtime, *mockConfig) {
	d := &mockDevice{}
	rt := &mockRealtime{}
	cfg := &mockConfig{}
	d.On("Credentials").Return(testCreds).Maybe()
	d.On("Stats").Return(powerbox.Stats{ConsecutiveErrors: 3, SessionsCreated: 2, HasToken: true}).Maybe()
	rt.On("Status").Return(realtimeStatus).Maybe()
	rt.On("Snapshot").Return(meterSnap).Maybe()
	cfg.On("Status").Return(configStatus).Maybe()
	cfg.On("Snapshot").Return(configSnap).Maybe()
	return New(d, rt, cfg), d, rt, cfg
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer()
	w := serve(srv, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "powerbox", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestHandleStatus(t *testing.T) {
	srv, _, _, _ := newTestServer()
	w := serve(srv, httptest.NewRequest("GET", "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp struct {
		Realtime map[string]any `json:"realtime"`
		Config   map[string]any `json:"config"`
		Client   map[string]any `json:"client"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Realtime["state"])
	assert.Equal(t, true, resp.Realtime["stale"])
	assert.Equal(t, true, resp.Realtime["available"])
	assert.Equal(t, 120.0, resp.Realtime["pollIntervalSeconds"])
	assert.Equal(t, "success", resp.Config["state"])
	assert.NotContains(t, resp.Config, "lastSuccess")
	assert.Equal(t, 3.0, resp.Client["consecutiveErrors"])
}

func TestHandleMeterValue(t *testing.T) {
	t.Run("Hit", func(t *testing.T) {
		srv, _, rt, _ := newTestServer()
		rt.On("GetMeterReading", types.MeterVirtual, "Current_mA").Return(types.MeterValue{Value: 16000, Timestamp: 1700000000}, true)

		w := serve(srv, httptest.NewRequest("GET", "/api/meters/EVPLCCom-Virtual-Meter/Current_mA", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"model":"EVPLCCom-Virtual-Meter","field":"Current_mA","value":16000,"timestamp":1700000000,"stale":true}`, w.Body.String())
		rt.AssertExpectations(t)
	})

	t.Run("TextReading", func(t *testing.T) {
		srv, _, rt, _ := newTestServer()
		rt.On("GetMeterReading", types.MeterTiC, "Tariff").Return(types.MeterValue{Text: "BASE", Timestamp: 5}, true)

		w := serve(srv, httptest.NewRequest("GET", "/api/meters/TiC/Tariff", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"model":"TiC","field":"Tariff","value":"BASE","timestamp":5,"stale":true}`, w.Body.String())
	})

	t.Run("EscapedModel", func(t *testing.T) {
		srv, _, rt, _ := newTestServer()
		rt.On("GetMeterReading", types.MeterPowerBoard, "Energy_Wh").Return(types.MeterValue{Value: 42}, true)

		w := serve(srv, httptest.NewRequest("GET", "/api/meters/Power%20Board%20Meter/Energy_Wh", nil))
		require.Equal(t, http.StatusOK, w.Code)
		rt.AssertExpectations(t)
	})

	t.Run("Miss", func(t *testing.T) {
		srv, _, rt, _ := newTestServer()
		rt.On("GetMeterReading", "TiC", "Power_W").Return(types.MeterValue{}, false)

		w := serve(srv, httptest.NewRequest("GET", "/api/meters/TiC/Power_W", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"meter value not available"}`, w.Body.String())
	})

	t.Run("WrongMethod", func(t *testing.T) {
		srv, _, rt, _ := newTestServer()
		w := serve(srv, httptest.NewRequest("POST", "/api/meters/TiC/Power_W", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		rt.AssertNotCalled(t, "GetMeterReading", mock.Anything, mock.Anything)
	})
}

func TestHandleConfigValue(t *testing.T) {
	t.Run("Hit", func(t *testing.T) {
		srv, _, _, cfg := newTestServer()
		cfg.On("GetConfigValue", types.ConfigChargerMode).Return("Always", true)

		w := serve(srv, httptest.NewRequest("GET", "/api/configs/ChargerMode.CurrentSet", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"key":"ChargerMode.CurrentSet","value":"Always","stale":false}`, w.Body.String())
	})

	t.Run("Miss", func(t *testing.T) {
		srv, _, _, cfg := newTestServer()
		cfg.On("GetConfigValue", "Nope.Missing").Return("", false)

		w := serve(srv, httptest.NewRequest("GET", "/api/configs/Nope.Missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleDiagnostics(t *testing.T) {
	srv, _, _, _ := newTestServer()
	w := serve(srv, httptest.NewRequest("GET", "/api/diagnostics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, secret := range []string{"hunter2", "installer", "SN-SECRET-1", "cloud-secret", "tok-secret"} {
		assert.NotContains(t, body, secret)
	}

	var resp struct {
		Credentials types.Credentials   `json:"credentials"`
		Meters      types.MeterSnapshot `json:"meters"`
		Configs     map[string]struct {
			Value    string                     `json:"config_value"`
			Metadata map[string]json.RawMessage `json:"metadata"`
		} `json:"configs"`
		Status struct {
			Realtime coordinator.Status `json:"realtime"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "192.168.1.50", resp.Credentials.Host)
	assert.Equal(t, types.Redacted, resp.Credentials.Password)
	assert.Equal(t, types.Redacted, resp.Credentials.Username)
	assert.Equal(t, types.Redacted, resp.Meters[types.MeterVirtual].Serial)
	assert.Equal(t, "Mobilize", resp.Meters[types.MeterVirtual].Manufacturer)
	assert.Equal(t, "Always", resp.Configs[types.ConfigChargerMode].Value)
	assert.Equal(t, types.Redacted, resp.Configs["Cloud.password"].Value)
	assert.JSONEq(t, `"url"`, string(resp.Configs["Cloud.Endpoint"].Metadata["unit"]))
	assert.Equal(t, coordinator.StateDegraded, resp.Status.Realtime.State)

	// the snapshot served to the coordinators is left untouched
	assert.Equal(t, "SN-SECRET-1", meterSnap[types.MeterVirtual].Serial)
	assert.Equal(t, types.FlexString("cloud-secret"), configSnap["Cloud.password"].Value)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer()

	t.Run("Plain", func(t *testing.T) {
		w := serve(srv, httptest.NewRequest("GET", "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `powerbox_meter_value{field="Current_mA",model="EVPLCCom-Virtual-Meter"} 16000`)
		assert.Contains(t, body, `powerbox_coordinator_stale{coordinator="realtime"} 1`)
		assert.Contains(t, body, `powerbox_consecutive_errors 3`)
	})

	t.Run("Gzip", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := serve(srv, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

		zr, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		b, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(b), "powerbox_coordinator_up"), "decompressed body should be the exposition")
	})
}

func TestRun(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv, _, _, _ := newTestServer()
	srv.listenAddr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
