package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// loggerName is the instrumentation scope of records sent through the
// OpenTelemetry log bridge.
const loggerName = "github.com/giantswarm/mcp-oauth-proxy"

// ShutdownFunc flushes and releases whatever Instrument set up.
type ShutdownFunc func(context.Context) error

// Instrument installs the process-wide default logger and the W3C trace
// context propagator. The returned func must be called on exit.
func Instrument(level slog.Level, logFormat string) (ShutdownFunc, error) {
	return instrument(os.Stdout, level, logFormat)
}

func instrument(w io.Writer, level slog.Level, logFormat string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	switch strings.ToLower(logFormat) {
	case "otel":
		provider, err := newLoggerProvider(w, level)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(otelslog.NewHandler(loggerName, otelslog.WithLoggerProvider(provider))))
		return provider.Shutdown, nil
	default:
		handler, err := newStdoutHandler(w, level, logFormat)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(newTraceContextHandler(handler)))
		return func(context.Context) error { return nil }, nil
	}
}

// newStdoutHandler creates a handler for human-readable logs.
func newStdoutHandler(w io.Writer, level slog.Level, logFormat string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected: json, text, otel)", logFormat)
	}

	return handler, nil
}

// newLoggerProvider routes records through the OpenTelemetry log SDK,
// dropping anything below level before export.
func newLoggerProvider(w io.Writer, level slog.Level) (*sdklog.LoggerProvider, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level >= slog.LevelError:
		return minsev.SeverityError
	case level >= slog.LevelWarn:
		return minsev.SeverityWarn
	case level >= slog.LevelInfo:
		return minsev.SeverityInfo
	default:
		return minsev.SeverityDebug
	}
}

// ParseLevel parses debug, info, warn or error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q (expected: debug, info, warn, error)", s)
	}
	return level, nil
}
