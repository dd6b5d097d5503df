// Package server provides the HTTP gateway for chatbot monitoring.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/flagwise/flagwise/pkg/config"
	"github.com/flagwise/flagwise/pkg/pipeline"
	"github.com/flagwise/flagwise/pkg/storage"
	"github.com/flagwise/flagwise/pkg/telemetry/metrics"
)

// Server is the HTTP gateway in front of the monitoring pipeline.
type Server struct {
	config       *config.ServerConfig
	metricsCfg   *config.MetricsConfig
	monitor      *pipeline.Monitor
	store        storage.Store
	collector    *metrics.Collector
	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a new monitoring gateway. The collector is optional;
// when nil the metrics endpoint is not mounted.
func NewServer(cfg *config.ServerConfig, metricsCfg *config.MetricsConfig, monitor *pipeline.Monitor, store storage.Store, collector *metrics.Collector) *Server {
	return &Server{
		config:       cfg,
		metricsCfg:   metricsCfg,
		monitor:      monitor,
		store:        store,
		collector:    collector,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	handler := s.setupRoutes()

	reloadCtx, cancelReload := context.WithCancel(context.Background())
	defer cancelReload()

	tlsConfig, err := buildTLSConfig(reloadCtx, &s.config.TLS)
	if err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return fmt.Errorf("tls configuration error: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      tlsConfig,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting monitoring server",
			"address", s.config.ListenAddress,
			"tls", tlsConfig != nil,
		)

		var err error
		if tlsConfig != nil {
			// Cert and key come from TLSConfig.GetCertificate.
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Signal handling belongs to the caller (cmd/flagwise routes SIGINT and
	// SIGTERM into ctx cancellation), so Start only watches its inputs.
	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		slog.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		slog.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("monitoring server stopped")
	})

	return shutdownErr
}

// Handler returns the configured route handler. Exposed for testing with
// httptest.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	monitorHandler := NewMonitorHandler(s.monitor, s.config.MaxBodyBytes)
	healthHandler := NewHealthHandler(s.store)
	requestsHandler := NewRequestsHandler(s.store)
	sessionsHandler := NewSessionsHandler(s.store)
	alertsHandler := NewAlertsHandler(s.store, s.monitor)

	mux.Handle("POST /chatbots/monitor", monitorHandler)
	mux.Handle("GET /health", healthHandler)
	mux.HandleFunc("GET /requests", requestsHandler.List)
	mux.HandleFunc("GET /requests/stats", requestsHandler.Stats)
	mux.HandleFunc("GET /requests/export", requestsHandler.Export)
	mux.Handle("GET /sessions", sessionsHandler)
	mux.HandleFunc("GET /alerts", alertsHandler.List)
	mux.HandleFunc("POST /alerts/{id}/acknowledge", alertsHandler.Acknowledge)
	mux.HandleFunc("POST /alerts/{id}/resolve", alertsHandler.Resolve)

	if s.collector != nil && s.metricsCfg != nil && s.metricsCfg.Enabled {
		mux.Handle("GET "+s.metricsCfg.Path, s.collector.Handler())
	}

	var handler http.Handler = mux

	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	return handler
}
