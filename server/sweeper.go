package server

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

// Start restores the persisted snapshot and launches the expiry sweeper.
// The sweeper runs until Stop is called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.stopped {
		return fmt.Errorf("server already stopped")
	}
	if s.sweepCancel != nil {
		return fmt.Errorf("server already started")
	}

	s.Restore(ctx)

	sweepCtx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(sweepCtx, s.Config.SweepInterval, s.sweepDone)

	s.Logger.Info("Expiry sweeper started", "interval", s.Config.SweepInterval)
	return nil
}

// Stop halts the sweeper and writes a final snapshot. It is safe to call
// more than once and without a prior Start.
func (s *Server) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.stopped {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.sweepCancel, s.sweepDone
	s.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for sweeper: %w", ctx.Err())
		}
	}

	s.persist(ctx)
	s.Logger.Info("Server stopped")
	return nil
}

func (s *Server) sweepLoop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep removes every expired transaction and token in one pass. The
// snapshot is rewritten once if, and only if, at least one token went away.
func (s *Server) Sweep(ctx context.Context) storage.SweepResult {
	ctx, span := s.startSpan(ctx, "server.Sweep")
	defer span.End()

	result := s.store.SweepExpired(ctx)

	instrumentation.AddSweepAttributes(span, result.TransactionsRemoved, result.TokensRemoved)
	if m := s.metrics(); m != nil {
		m.RecordSweep(ctx, result.TransactionsRemoved, result.TokensRemoved)
	}

	if result.TokensRemoved > 0 {
		s.persist(ctx)
	}
	if result.TransactionsRemoved > 0 || result.TokensRemoved > 0 {
		s.Logger.Debug("Swept expired entries",
			"transactions", result.TransactionsRemoved,
			"tokens", result.TokensRemoved)
	}
	return result
}
