// Package observability holds the logging, metrics, tracing and health
// plumbing shared by the server and the CLI.
//
// Loggers travel in the request context. FromContext picks one up and adds
// the request id, the variant and module being compiled and the trace ids:
//
//	ctx = observability.WithModule(ctx, match.VariantID, match.ModulePath)
//	observability.FromContext(ctx, fallback).Info("Compiled")
//
// Metrics register on a caller-owned Prometheus registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// InitOTel installs OTLP trace and metric providers when enabled. The
// ShutdownManager stops the HTTP server and then runs registered functions
// in reverse order.
package observability
