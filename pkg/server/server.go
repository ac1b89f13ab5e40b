// Package server exposes a read-only HTTP status surface over the
// coordinators: health, current values, diagnostics and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/metrics"
	"github.com/raterudder/powerbox/pkg/powerbox"
	"github.com/raterudder/powerbox/pkg/types"
)

// Device is the part of the PowerBox client the server reports on.
type Device interface {
	Credentials() types.Credentials
	Stats() powerbox.Stats
}

// MeterCoordinator serves realtime meter values.
type MeterCoordinator interface {
	metrics.MeterSource
	GetMeterReading(model, field string) (types.MeterValue, bool)
}

// ConfigCoordinator serves configuration values.
type ConfigCoordinator interface {
	metrics.ConfigSource
	GetConfigValue(key string) (string, bool)
}

// Server handles the status HTTP API.
type Server struct {
	device   Device
	realtime MeterCoordinator
	config   ConfigCoordinator
	registry *prometheus.Registry

	listenAddr string
	serverName string
	httpServer *http.Server
}

// New returns a server over the given device and coordinators, with the
// PowerBox collector registered.
func New(d Device, rt MeterCoordinator, cfg ConfigCoordinator) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(rt, cfg, d))
	return &Server{
		device:     d,
		realtime:   rt,
		config:     cfg,
		registry:   registry,
		listenAddr: ":8080",
		serverName: "powerbox",
	}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(d Device, rt MeterCoordinator, cfg ConfigCoordinator) *Server {
	srv := New(d, rt, cfg)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	withGoMetrics := lflag.Bool("metrics-go-runtime", false, "Also export Go runtime and process metrics")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *withGoMetrics {
			srv.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
	})
	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/meters/{model}/{field}", s.handleMeterValue)
	mux.HandleFunc("GET /api/configs/{key}", s.handleConfigValue)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	// gziphandler compresses the exposition instead of promhttp
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		DisableCompression: true,
	}))
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
