package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth-proxy/instrumentation"
	"github.com/giantswarm/mcp-oauth-proxy/internal/testutil"
	"github.com/giantswarm/mcp-oauth-proxy/storage"
)

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore() (*Store, *testutil.MockTime) {
	clock := testutil.NewMockTime(baseTime)
	return New(WithClock(clock.Now)), clock
}

// ============================================================
// TransactionStore Tests
// ============================================================

func TestStore_SaveAndGetTransaction(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))

	got, err := store.GetTransaction(ctx, txn.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.CodeVerifier, txn.CodeVerifier)
	testutil.AssertEqual(t, got.ClientRedirectURI, txn.ClientRedirectURI)
	testutil.AssertEqual(t, len(got.Scopes), 2)

	// Mutating the returned copy must not affect the store
	got.Scopes[0] = "mutated"
	again, _ := store.GetTransaction(ctx, txn.ID)
	testutil.AssertEqual(t, again.Scopes[0], "read")
}

func TestStore_SaveTransaction_Invalid(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	if err := store.SaveTransaction(ctx, nil); err == nil {
		t.Error("SaveTransaction(nil) should return error")
	}
	if err := store.SaveTransaction(ctx, &storage.Transaction{}); err == nil {
		t.Error("SaveTransaction with empty id should return error")
	}

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))
	if err := store.SaveTransaction(ctx, txn); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate SaveTransaction() error = %v, want ErrAlreadyExists", err)
	}
}

func TestStore_GetTransaction_NotFoundAndExpired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	if _, err := store.GetTransaction(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTransaction(missing) error = %v, want ErrNotFound", err)
	}

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))

	// Expiry is exclusive: at exactly ExpiresAt the transaction is gone.
	clock.Set(txn.ExpiresAt)
	got, err := store.GetTransaction(ctx, txn.ID)
	if !errors.Is(err, storage.ErrExpired) {
		t.Fatalf("GetTransaction() error = %v, want ErrExpired", err)
	}
	if got == nil || got.ID != txn.ID {
		t.Error("expired transaction should be returned alongside ErrExpired")
	}
}

func TestStore_DeleteTransaction(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))
	testutil.AssertNoError(t, store.DeleteTransaction(ctx, txn.ID))
	testutil.AssertNoError(t, store.DeleteTransaction(ctx, txn.ID))

	if _, err := store.GetTransaction(ctx, txn.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetTransaction() after delete error = %v, want ErrNotFound", err)
	}
	txns, _ := store.Stats()
	testutil.AssertEqual(t, txns, 0)
}

func TestStore_ConsumeTransaction(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))

	got, err := store.ConsumeTransaction(ctx, txn.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ID, txn.ID)

	if _, err := store.ConsumeTransaction(ctx, txn.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second ConsumeTransaction() error = %v, want ErrNotFound", err)
	}

	expired := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, expired))
	clock.Advance(11 * time.Minute)

	if _, err := store.ConsumeTransaction(ctx, expired.ID); !errors.Is(err, storage.ErrExpired) {
		t.Errorf("ConsumeTransaction(expired) error = %v, want ErrExpired", err)
	}
	if _, err := store.GetTransaction(ctx, expired.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired transaction should be removed by consume, got %v", err)
	}
}

func TestStore_ConsumeTransaction_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeTransaction(ctx, txn.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("ConsumeTransaction succeeded %d times, want exactly 1", wins.Load())
	}
}

// ============================================================
// TokenStore Tests
// ============================================================

func TestStore_SaveAndGetToken(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	rec := testutil.GenerateTestTokenRecord(baseTime, time.Hour)
	testutil.AssertNoError(t, store.SaveToken(ctx, "key-1", rec))

	got, err := store.GetToken(ctx, "key-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, rec)

	if err := store.SaveToken(ctx, "", rec); err == nil {
		t.Error("SaveToken with empty key should return error")
	}
	if err := store.SaveToken(ctx, "key-1", rec); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("SaveToken over live key error = %v, want ErrAlreadyExists", err)
	}
}

func TestStore_SaveToken_ReplacesExpired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	testutil.AssertNoError(t, store.SaveToken(ctx, "key", testutil.GenerateTestTokenRecord(baseTime, time.Minute)))
	clock.Advance(2 * time.Minute)

	fresh := testutil.GenerateTestTokenRecord(clock.Now(), time.Hour)
	testutil.AssertNoError(t, store.SaveToken(ctx, "key", fresh))

	_, tokens := store.Stats()
	testutil.AssertEqual(t, tokens, 1)
}

func TestStore_GetToken_NotFoundAndExpired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	if _, err := store.GetToken(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetToken(missing) error = %v, want ErrNotFound", err)
	}

	rec := testutil.GenerateTestTokenRecord(baseTime, time.Hour)
	testutil.AssertNoError(t, store.SaveToken(ctx, "key", rec))

	clock.Set(rec.ExpiresAt)
	got, err := store.GetToken(ctx, "key")
	if !errors.Is(err, storage.ErrExpired) {
		t.Fatalf("GetToken() error = %v, want ErrExpired", err)
	}
	testutil.AssertEqual(t, got.AccessToken, rec.AccessToken)
}

func TestStore_RotateToken(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	rec := testutil.GenerateTestTokenRecord(baseTime, time.Hour)
	testutil.AssertNoError(t, store.SaveToken(ctx, "code", rec))

	got, err := store.RotateToken(ctx, "code", "access")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, rec)

	if _, err := store.GetToken(ctx, "code"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old key should be gone, got %v", err)
	}
	moved, err := store.GetToken(ctx, "access")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, moved, rec)

	if _, err := store.RotateToken(ctx, "code", "other"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second RotateToken() error = %v, want ErrNotFound", err)
	}

	_, tokens := store.Stats()
	testutil.AssertEqual(t, tokens, 1)
}

func TestStore_RotateToken_Expired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	testutil.AssertNoError(t, store.SaveToken(ctx, "code", testutil.GenerateTestTokenRecord(baseTime, time.Minute)))
	clock.Advance(time.Minute)

	if _, err := store.RotateToken(ctx, "code", "access"); !errors.Is(err, storage.ErrExpired) {
		t.Fatalf("RotateToken() error = %v, want ErrExpired", err)
	}
	if _, err := store.GetToken(ctx, "code"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired code should be removed, got %v", err)
	}
	if _, err := store.GetToken(ctx, "access"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("new key must not be created for expired code, got %v", err)
	}
}

func TestStore_RotateToken_Collision(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	testutil.AssertNoError(t, store.SaveToken(ctx, "code", testutil.GenerateTestTokenRecord(baseTime, time.Hour)))
	testutil.AssertNoError(t, store.SaveToken(ctx, "taken", testutil.GenerateTestTokenRecord(baseTime, time.Hour)))

	if _, err := store.RotateToken(ctx, "code", "taken"); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("RotateToken() error = %v, want ErrAlreadyExists", err)
	}
	if _, err := store.GetToken(ctx, "code"); err != nil {
		t.Errorf("old key should be restored after collision, got %v", err)
	}
	_, tokens := store.Stats()
	testutil.AssertEqual(t, tokens, 2)
}

func TestStore_RotateToken_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	testutil.AssertNoError(t, store.SaveToken(ctx, "code", testutil.GenerateTestTokenRecord(baseTime, time.Hour)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := store.RotateToken(ctx, "code", fmt.Sprintf("access-%d", n)); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("RotateToken succeeded %d times, want exactly 1", wins.Load())
	}
}

func TestStore_SnapshotAndLoadTokens(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	live := testutil.GenerateTestTokenRecord(baseTime, time.Hour)
	short := testutil.GenerateTestTokenRecord(baseTime, time.Minute)
	testutil.AssertNoError(t, store.SaveToken(ctx, "live", live))
	testutil.AssertNoError(t, store.SaveToken(ctx, "short", short))

	clock.Advance(2 * time.Minute)
	snapshot := store.SnapshotTokens(ctx)
	if len(snapshot) != 1 {
		t.Fatalf("SnapshotTokens() returned %d records, want 1", len(snapshot))
	}
	testutil.AssertEqual(t, snapshot["live"], live)

	// The snapshot is a copy
	delete(snapshot, "live")
	if _, err := store.GetToken(ctx, "live"); err != nil {
		t.Errorf("deleting from snapshot affected the store: %v", err)
	}

	restored, restoredClock := newTestStore()
	restoredClock.Set(clock.Now())

	n := restored.LoadTokens(ctx, map[string]storage.TokenRecord{
		"live":    live,
		"short":   short,
		"":        live,
		"another": testutil.GenerateTestTokenRecord(baseTime, 24*time.Hour),
	})
	testutil.AssertEqual(t, n, 2)
	_, tokens := restored.Stats()
	testutil.AssertEqual(t, tokens, 2)
}

// ============================================================
// Sweeper Tests
// ============================================================

func TestStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore()

	oldTxn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, oldTxn))
	testutil.AssertNoError(t, store.SaveToken(ctx, "short", testutil.GenerateTestTokenRecord(baseTime, time.Minute)))
	testutil.AssertNoError(t, store.SaveToken(ctx, "long", testutil.GenerateTestTokenRecord(baseTime, time.Hour)))

	clock.Advance(10 * time.Minute)
	newTxn := testutil.GenerateTestTransaction(clock.Now())
	testutil.AssertNoError(t, store.SaveTransaction(ctx, newTxn))

	result := store.SweepExpired(ctx)
	testutil.AssertEqual(t, result.TransactionsRemoved, 1)
	testutil.AssertEqual(t, result.TokensRemoved, 1)

	txns, tokens := store.Stats()
	testutil.AssertEqual(t, txns, 1)
	testutil.AssertEqual(t, tokens, 1)

	// A second pass finds nothing
	result = store.SweepExpired(ctx)
	testutil.AssertEqual(t, result, storage.SweepResult{})
}

func TestStore_WithInstrumentation(t *testing.T) {
	ctx := context.Background()
	inst, err := instrumentation.New(ctx, instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(ctx) }()

	store, _ := newTestStore()
	store.SetInstrumentation(inst)

	txn := testutil.GenerateTestTransaction(baseTime)
	testutil.AssertNoError(t, store.SaveTransaction(ctx, txn))
	testutil.AssertNoError(t, store.SaveToken(ctx, "key", testutil.GenerateTestTokenRecord(baseTime, time.Hour)))
	if _, err := store.GetToken(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetToken(missing) error = %v, want ErrNotFound", err)
	}
	_ = store.SweepExpired(ctx)
}
