package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/internal/util"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

// Compile-time interface checks
var (
	_ storage.TransactionStore = (*Store)(nil)
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ExpirySweeper    = (*Store)(nil)
)

// Store is an in-memory implementation of TransactionStore and TokenStore.
// Both tables share one lock so that a sweep sees a consistent view.
type Store struct {
	mu sync.RWMutex

	transactions map[string]*storage.Transaction
	tokens       map[string]storage.TokenRecord

	now    func() time.Time
	logger *slog.Logger

	// Instrumentation for metrics and tracing
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters backing the storage size gauges. They let metric
	// callbacks read sizes without taking the store lock.
	transactionsCountAtomic atomic.Int64
	tokensCountAtomic       atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for every expiry comparison.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		transactions: make(map[string]*storage.Transaction),
		tokens:       make(map[string]storage.TokenRecord),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInstrumentation sets the instrumentation for metrics and tracing
// and registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.transactionsCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// ============================================================
// TransactionStore Implementation
// ============================================================

// SaveTransaction stores a new pending transaction.
func (s *Store) SaveTransaction(ctx context.Context, txn *storage.Transaction) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_transaction")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_transaction", err, startTime) }()

	if txn == nil {
		return fmt.Errorf("transaction cannot be nil")
	}
	if txn.ID == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[txn.ID]; ok && !existing.Expired(s.now()) {
		return storage.ErrAlreadyExists
	} else if !ok {
		s.transactionsCountAtomic.Add(1)
	}

	s.transactions[txn.ID] = cloneTransaction(txn)
	s.logger.Debug("Saved transaction", "transaction_id", util.Redact(txn.ID), "expires_at", txn.ExpiresAt)
	return nil
}

// GetTransaction returns a copy of the transaction stored under id.
func (s *Store) GetTransaction(ctx context.Context, id string) (txn *storage.Transaction, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_transaction")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_transaction", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if stored.Expired(s.now()) {
		return cloneTransaction(stored), storage.ErrExpired
	}
	return cloneTransaction(stored), nil
}

// DeleteTransaction removes the transaction stored under id, if any.
func (s *Store) DeleteTransaction(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_transaction")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_transaction", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTransactionLocked(id)
	return nil
}

// ConsumeTransaction atomically removes and returns a live transaction.
// SECURITY: lookup, expiry check and removal happen under a single write
// lock, so two concurrent callbacks for the same state cannot both succeed.
func (s *Store) ConsumeTransaction(ctx context.Context, id string) (txn *storage.Transaction, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_transaction")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "consume_transaction", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.deleteTransactionLocked(id)

	if stored.Expired(s.now()) {
		return nil, storage.ErrExpired
	}
	return stored, nil
}

func (s *Store) deleteTransactionLocked(id string) {
	if _, ok := s.transactions[id]; ok {
		delete(s.transactions, id)
		s.transactionsCountAtomic.Add(-1)
	}
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken stores rec under key. An expired record under the same key is replaced.
func (s *Store) SaveToken(ctx context.Context, key string, rec storage.TokenRecord) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_token", err, startTime) }()

	if key == "" {
		return fmt.Errorf("token key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, existed := s.tokens[key]
	if existed && !existing.Expired(s.now()) {
		return storage.ErrAlreadyExists
	}

	s.tokens[key] = rec
	if !existed {
		s.tokensCountAtomic.Add(1)
	}

	s.logger.Debug("Saved token record", "key_prefix", util.Redact(key), "expires_at", rec.ExpiresAt)
	return nil
}

// GetToken returns the record stored under key.
func (s *Store) GetToken(ctx context.Context, key string) (rec storage.TokenRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_token", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.tokens[key]
	if !ok {
		return storage.TokenRecord{}, storage.ErrNotFound
	}
	if stored.Expired(s.now()) {
		return stored, storage.ErrExpired
	}
	return stored, nil
}

// DeleteToken removes the record stored under key, if any.
func (s *Store) DeleteToken(ctx context.Context, key string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTokenLocked(key)
	return nil
}

// RotateToken moves the record under oldKey to newKey.
// SECURITY: the old key is removed in the same critical section that reads
// it, so a proxy code can be redeemed at most once.
func (s *Store) RotateToken(ctx context.Context, oldKey, newKey string) (rec storage.TokenRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "rotate_token", err, startTime) }()

	if newKey == "" {
		return storage.TokenRecord{}, fmt.Errorf("new token key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tokens[oldKey]
	if !ok {
		return storage.TokenRecord{}, storage.ErrNotFound
	}
	s.deleteTokenLocked(oldKey)

	if stored.Expired(s.now()) {
		return storage.TokenRecord{}, storage.ErrExpired
	}

	if existing, exists := s.tokens[newKey]; exists && !existing.Expired(s.now()) {
		// Put the old entry back; the caller may retry with a fresh key.
		s.tokens[oldKey] = stored
		s.tokensCountAtomic.Add(1)
		return storage.TokenRecord{}, storage.ErrAlreadyExists
	} else if !exists {
		s.tokensCountAtomic.Add(1)
	}
	s.tokens[newKey] = stored

	s.logger.Debug("Rotated token record",
		"old_key_prefix", util.Redact(oldKey),
		"new_key_prefix", util.Redact(newKey))
	return stored, nil
}

// SnapshotTokens returns a copy of every unexpired token record.
func (s *Store) SnapshotTokens(ctx context.Context) map[string]storage.TokenRecord {
	_, span := s.startStorageSpan(ctx, "snapshot_tokens")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	snapshot := make(map[string]storage.TokenRecord, len(s.tokens))
	for key, rec := range s.tokens {
		if rec.Expired(now) {
			continue
		}
		snapshot[key] = rec
	}
	return snapshot
}

// LoadTokens inserts records into the token table, skipping expired ones.
// Existing keys are overwritten.
func (s *Store) LoadTokens(ctx context.Context, records map[string]storage.TokenRecord) int {
	_, span := s.startStorageSpan(ctx, "load_tokens")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	loaded := 0
	for key, rec := range records {
		if key == "" || rec.Expired(now) {
			continue
		}
		if _, exists := s.tokens[key]; !exists {
			s.tokensCountAtomic.Add(1)
		}
		s.tokens[key] = rec
		loaded++
	}
	return loaded
}

func (s *Store) deleteTokenLocked(key string) {
	if _, ok := s.tokens[key]; ok {
		delete(s.tokens, key)
		s.tokensCountAtomic.Add(-1)
	}
}

// ============================================================
// ExpirySweeper Implementation
// ============================================================

// SweepExpired removes every expired transaction and token record in a single pass.
func (s *Store) SweepExpired(ctx context.Context) storage.SweepResult {
	_, span := s.startStorageSpan(ctx, "sweep_expired")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var result storage.SweepResult

	for id, txn := range s.transactions {
		if txn.Expired(now) {
			s.deleteTransactionLocked(id)
			result.TransactionsRemoved++
		}
	}
	for key, rec := range s.tokens {
		if rec.Expired(now) {
			s.deleteTokenLocked(key)
			result.TokensRemoved++
		}
	}

	instrumentation.AddSweepAttributes(span, result.TransactionsRemoved, result.TokensRemoved)
	if result.TransactionsRemoved > 0 || result.TokensRemoved > 0 {
		s.logger.Debug("Swept expired entries",
			"transactions_removed", result.TransactionsRemoved,
			"tokens_removed", result.TokensRemoved)
	}
	return result
}

// Stats returns the current number of transactions and token records,
// expired entries included.
func (s *Store) Stats() (transactions, tokens int) {
	return int(s.transactionsCountAtomic.Load()), int(s.tokensCountAtomic.Load())
}

func cloneTransaction(txn *storage.Transaction) *storage.Transaction {
	c := *txn
	c.Scopes = slices.Clone(txn.Scopes)
	return &c
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		// Non-recording span; ending it must not end the caller's span.
		return ctx, trace.SpanFromContext(context.Background())
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("storage.type", "memory"),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
