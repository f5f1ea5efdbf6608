// Package observability sets up process-wide logging and trace context
// propagation. Logs go to stdout as text or JSON, or through the
// OpenTelemetry log SDK when the format is "otel".
package observability
