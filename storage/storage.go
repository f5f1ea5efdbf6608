package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key or transaction id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when an entry exists but its expiry has passed.
	ErrExpired = errors.New("expired")

	// ErrAlreadyExists is returned when a mint would overwrite a live key.
	ErrAlreadyExists = errors.New("already exists")
)

// Transaction is one in-flight authorize→callback exchange.
type Transaction struct {
	// ID is the opaque transaction id. It is also the state sent upstream.
	ID string

	// CodeVerifier is the proxy's PKCE verifier toward upstream. It never leaves the process.
	CodeVerifier string

	// CodeChallenge is S256(CodeVerifier), the only PKCE value sent upstream.
	CodeChallenge string

	// ClientRedirectURI is where the original client expects the proxy code.
	ClientRedirectURI string

	// ClientID is the original requester's client id. Recorded, never sent upstream.
	ClientID string

	// ClientState is the original client's state, returned verbatim on completion.
	ClientState string

	// ClientCodeChallenge and ClientCodeChallengeMethod are what the client sent
	// to /authorize. Kept for diagnostics only.
	ClientCodeChallenge       string
	ClientCodeChallengeMethod string

	// Scopes requested by the client.
	Scopes []string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the transaction is past its expiry at now.
func (t *Transaction) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenRecord holds the upstream credentials behind a proxy key.
// The same record first lives under a proxy code and is then re-keyed
// under a proxy access token.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the record is past its expiry at now.
func (r TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// RemainingLifetime returns the time left until expiry, never negative.
func (r TokenRecord) RemainingLifetime(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TransactionStore holds pending authorization transactions.
// All methods accept context.Context for tracing and cancellation.
type TransactionStore interface {
	// SaveTransaction stores a new transaction under its ID.
	SaveTransaction(ctx context.Context, txn *Transaction) error

	// GetTransaction returns the transaction for id. An expired transaction is
	// returned together with ErrExpired so the caller can decide what to do with it.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// DeleteTransaction removes a transaction. Deleting an unknown id is not an error.
	DeleteTransaction(ctx context.Context, id string) error

	// ConsumeTransaction atomically removes and returns a live transaction.
	// Returns ErrNotFound if it is gone and ErrExpired (after removing it) if it expired.
	// SECURITY: This is the single point that makes a transaction usable exactly once.
	ConsumeTransaction(ctx context.Context, id string) (*Transaction, error)
}

// TokenStore holds proxy keys and their token records.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken stores rec under key. Returns ErrAlreadyExists if key is live.
	SaveToken(ctx context.Context, key string, rec TokenRecord) error

	// GetToken returns the record for key. An expired record is returned with ErrExpired.
	GetToken(ctx context.Context, key string) (TokenRecord, error)

	// DeleteToken removes key. Deleting an unknown key is not an error.
	DeleteToken(ctx context.Context, key string) error

	// RotateToken atomically removes oldKey and stores its record under newKey.
	// Returns ErrNotFound if oldKey is unknown and ErrExpired (after removing it)
	// if it has expired. SECURITY: This enforces single use of proxy codes.
	RotateToken(ctx context.Context, oldKey, newKey string) (TokenRecord, error)

	// SnapshotTokens returns a copy of every unexpired record.
	SnapshotTokens(ctx context.Context) map[string]TokenRecord

	// LoadTokens inserts records, skipping expired ones. Returns how many were loaded.
	LoadTokens(ctx context.Context, records map[string]TokenRecord) int
}

// SweepResult reports what a sweep removed.
type SweepResult struct {
	TransactionsRemoved int
	TokensRemoved       int
}

// ExpirySweeper removes every expired entry from both tables in one pass.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) SweepResult
}

// Persister loads and saves the durable token snapshot.
type Persister interface {
	// Load returns the unexpired records of the snapshot. A missing snapshot is empty, not an error.
	Load(ctx context.Context) (map[string]TokenRecord, error)

	// Save overwrites the snapshot with records.
	Save(ctx context.Context, records map[string]TokenRecord) error
}
