// Package observability initializes OpenTelemetry tracing and metrics with
// OTLP HTTP exporters and provides the span/metric helpers the engine's
// interceptors record stage execution through.
package observability
