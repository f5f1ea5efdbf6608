package storage

import (
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth-proxy/security"
)

func TestTokenRecord_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "future", expiresAt: now.Add(time.Second), want: false},
		{name: "exactly now", expiresAt: now, want: true},
		{name: "past", expiresAt: now.Add(-time.Second), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := TokenRecord{AccessToken: "a", ExpiresAt: tt.expiresAt}
			if got := rec.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
			txn := &Transaction{ExpiresAt: tt.expiresAt}
			if got := txn.Expired(now); got != tt.want {
				t.Errorf("Transaction.Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenRecord_RemainingLifetime(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := TokenRecord{ExpiresAt: now.Add(90 * time.Second)}
	if got := rec.RemainingLifetime(now); got != 90*time.Second {
		t.Errorf("RemainingLifetime() = %v, want 90s", got)
	}

	rec.ExpiresAt = now.Add(-time.Minute)
	if got := rec.RemainingLifetime(now); got != 0 {
		t.Errorf("RemainingLifetime() on expired record = %v, want 0", got)
	}
}

func TestEncryptDecryptRecord(t *testing.T) {
	key, _ := security.GenerateKey()
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	rec := TokenRecord{
		AccessToken:  "upstream-access",
		RefreshToken: "upstream-refresh",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}

	sealed, err := EncryptRecord(rec, enc)
	if err != nil {
		t.Fatalf("EncryptRecord() error = %v", err)
	}
	if sealed.AccessToken == rec.AccessToken || sealed.RefreshToken == rec.RefreshToken {
		t.Fatal("EncryptRecord() left token values in clear text")
	}
	if !sealed.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Error("EncryptRecord() must not touch the expiry")
	}

	opened, err := DecryptRecord(sealed, enc)
	if err != nil {
		t.Fatalf("DecryptRecord() error = %v", err)
	}
	if opened != rec {
		t.Errorf("DecryptRecord() = %+v, want %+v", opened, rec)
	}
}

func TestEncryptRecord_Disabled(t *testing.T) {
	rec := TokenRecord{AccessToken: "a", ExpiresAt: time.Now()}
	got, err := EncryptRecord(rec, nil)
	if err != nil {
		t.Fatalf("EncryptRecord() error = %v", err)
	}
	if got != rec {
		t.Errorf("EncryptRecord() with nil encryptor changed the record")
	}
}
