package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/providers"
	"github.com/giantswarm/mcp-oauth-proxy/security"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

// Store is the state the engine owns: pending transactions, proxy keys and
// a way to drop whatever has expired. storage/memory.Store implements it.
type Store interface {
	storage.TransactionStore
	storage.TokenStore
	storage.ExpirySweeper
}

// Server is the proxy engine. Every state mutation goes through it.
type Server struct {
	provider  providers.Provider
	store     Store
	persister storage.Persister

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer

	// persistMu serializes snapshot+save so writes never interleave and
	// a later snapshot never lands before an earlier one.
	persistMu sync.Mutex

	lifecycleMu sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	stopped     bool
}

// New creates the proxy engine. persister may be nil, in which case tokens
// live only as long as the process.
func New(
	provider providers.Provider,
	store Store,
	persister storage.Persister,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if persister == nil {
		logger.Warn("No persister configured, issued tokens will not survive a restart")
	}

	return &Server{
		provider:  provider,
		store:     store,
		persister: persister,
		Config:    config,
		Logger:    logger,
		tracer:    tracenoop.NewTracerProvider().Tracer("server"),
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation sets the OpenTelemetry instrumentation used for metrics and spans
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// Provider returns the upstream provider the engine exchanges codes with.
func (s *Server) Provider() providers.Provider {
	return s.provider
}

func (s *Server) now() time.Time {
	return s.Config.Now()
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// Restore loads the persisted snapshot into the token store. A snapshot
// that cannot be read is logged and the engine starts empty.
func (s *Server) Restore(ctx context.Context) int {
	if s.persister == nil {
		return 0
	}

	start := time.Now()
	records, err := s.persister.Load(ctx)
	if m := s.metrics(); m != nil {
		m.RecordPersistenceOperation(ctx, "load", err, float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		s.Logger.Error("Failed to load token snapshot, starting empty",
			"error", ErrPersistence("load", err))
		return 0
	}

	loaded := s.store.LoadTokens(ctx, records)
	s.Logger.Info("Restored token snapshot", "tokens", loaded)
	return loaded
}

// persist writes the current unexpired tokens. Failures are logged and
// counted, never returned: the in-memory state stays authoritative.
func (s *Server) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	// A client hanging up must not abort the save.
	ctx = context.WithoutCancel(ctx)

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snapshot := s.store.SnapshotTokens(ctx)

	start := time.Now()
	err := s.persister.Save(ctx, snapshot)
	if m := s.metrics(); m != nil {
		m.RecordPersistenceOperation(ctx, "save", err, float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		s.Logger.Error("Failed to save token snapshot",
			"error", ErrPersistence("save", err),
			"tokens", len(snapshot))
		return
	}
	s.Logger.Debug("Saved token snapshot", "tokens", len(snapshot))
}
