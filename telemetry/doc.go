// Package telemetry provides tracing and Prometheus metrics for callkit.
//
// Tracing is OpenTelemetry with OTLP export over gRPC or HTTP. When tracing
// is disabled the global tracer is a no-op, so instrumented code never
// checks whether telemetry is on.
//
// Metrics live on a private registry served by Metrics.Handler. Metrics
// also implements bus.Observer so the event bus reports publish, drop and
// subscriber counts without importing this package.
package telemetry
