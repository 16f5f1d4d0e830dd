// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the billing services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Infof("created %s subscription", plan)
//
// Request scoped loggers pick up the request and tenant IDs placed in the
// context by the HTTP middleware:
//
//	observability.FromContext(r.Context()).Warn("tenant not found")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.InvoicesGeneratedTotal.WithLabelValues("monthly").Inc()
//
// Scheduled jobs report through ObserveJobRun, which is safe on a nil
// *Metrics so callers can run without a registry.
//
// # Health Checks
//
// /health is a liveness probe. /ready pings Postgres and Redis; a Redis
// outage reports degraded rather than unhealthy.
//
// # Tracing
//
// InitTracing installs an OTLP/gRPC exporter. With tracing disabled the
// global no-op provider is left in place, so spans cost nothing.
package observability
