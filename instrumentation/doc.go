// Package instrumentation provides OpenTelemetry instrumentation for the
// proxy: metrics exported in Prometheus format and optional traces shipped
// over OTLP/HTTP.
//
// # Quick Start
//
//	inst, err := instrumentation.New(ctx, instrumentation.Config{
//		Enabled:        true,
//		ServiceName:    "mcp-oauth-proxy",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Traces
//
// Set TracesExporter to "otlp" to export spans. The endpoint defaults to
// the standard OTEL_EXPORTER_OTLP_ENDPOINT environment variable and can be
// overridden with OTLPEndpoint.
//
// # Scopes
//
// Meters and tracers are named per layer: "http", "server", "storage",
// "provider" and "security".
//
// # Security
//
// Credential values never appear in span attributes or metric labels. Only
// metadata such as results, counts and client identifiers is recorded.
package instrumentation
