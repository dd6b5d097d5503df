// Package server provides the HTTP gateway for chatbot monitoring.
//
// This package ties the monitoring pipeline to an HTTP surface and manages
// server lifecycle including start, graceful shutdown, and OS signal
// handling (SIGTERM, SIGINT).
//
// # Routes
//
// The server exposes the following endpoints:
//
//   - POST /chatbots/monitor - Score a prompt/response pair through the pipeline
//   - GET /health - Liveness plus store connectivity
//   - GET /requests - List stored request records (filterable)
//   - GET /requests/stats - Aggregate statistics over the request stream
//   - GET /requests/export - Download request records as CSV or JSON
//   - GET /sessions - List stored sessions
//   - GET /alerts - List alerts
//   - POST /alerts/{id}/acknowledge - Acknowledge an alert
//   - POST /alerts/{id}/resolve - Resolve an alert
//   - GET /metrics - Prometheus metrics (when enabled in config)
//
// # Middleware Chain
//
// Requests pass through the following middleware (innermost to outermost):
//  1. Logging: Logs request/response details with latency
//  2. RequestID: Generates or propagates X-Request-ID for correlation
//  3. Recovery: Recovers from panics and returns a 500 error
//
// # Basic Usage
//
//	srv := server.NewServer(&cfg.Server, &cfg.Telemetry.Metrics, monitor, store, collector)
//	if err := srv.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until the context is cancelled, a shutdown signal arrives,
// or Shutdown is called. Shutdown stops accepting new connections and waits
// up to the configured shutdown timeout for in-flight requests to finish.
//
// # Thread Safety
//
// All server operations are safe for concurrent use.
package server
