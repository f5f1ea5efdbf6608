package security

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if len(key) != KeySize {
		t.Errorf("GenerateKey() returned key of length %d, want %d", len(key), KeySize)
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name       string
		key        []byte
		wantErr    bool
		wantEnable bool
	}{
		{name: "valid 32-byte key", key: make([]byte, 32), wantEnable: true},
		{name: "nil key (disabled)", key: nil},
		{name: "empty key (disabled)", key: []byte{}},
		{name: "short key", key: make([]byte, 16), wantErr: true},
		{name: "long key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enc.IsEnabled() != tt.wantEnable {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnable)
			}
		})
	}
}

func TestEncryptor_RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	plaintext := "upstream-access-token-value"
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed == plaintext {
		t.Fatal("Encrypt() returned plaintext")
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		t.Errorf("sealed value %q is missing prefix", sealed)
	}

	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if opened != plaintext {
		t.Errorf("Decrypt() = %q, want %q", opened, plaintext)
	}
}

func TestEncryptor_EmptyStaysEmpty(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	sealed, err := enc.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", sealed)
	}
}

func TestEncryptor_PlaintextPassthrough(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	got, err := enc.Decrypt("legacy-plaintext")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if got != "legacy-plaintext" {
		t.Errorf("Decrypt() = %q, want passthrough", got)
	}
}

func TestEncryptor_DisabledCannotOpenSealed(t *testing.T) {
	key, _ := GenerateKey()
	enabled, _ := NewEncryptor(key)
	sealed, _ := enabled.Encrypt("secret")

	var disabled *Encryptor
	if _, err := disabled.Decrypt(sealed); err == nil {
		t.Error("Decrypt() with nil encryptor should fail on sealed values")
	}
}

func TestEncryptor_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	enc1, _ := NewEncryptor(key1)
	enc2, _ := NewEncryptor(key2)

	sealed, _ := enc1.Encrypt("secret")
	if _, err := enc2.Decrypt(sealed); err == nil {
		t.Error("Decrypt() with wrong key should fail")
	}
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("correct horse battery staple", []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	k2, _ := DeriveKey("correct horse battery staple", []byte("salt"))
	k3, _ := DeriveKey("correct horse battery staple", []byte("other"))

	if len(k1) != KeySize {
		t.Errorf("len(key) = %d, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey() is not deterministic")
	}
	if bytes.Equal(k1, k3) {
		t.Error("DeriveKey() ignored the salt")
	}
	if _, err := DeriveKey("", nil); err == nil {
		t.Error("DeriveKey() with empty passphrase should fail")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("key changed through base64 round trip")
	}

	if _, err := KeyFromBase64("dG9vLXNob3J0"); err == nil {
		t.Error("KeyFromBase64() should reject short keys")
	}
	if _, err := KeyFromBase64("not base64!"); err == nil {
		t.Error("KeyFromBase64() should reject invalid base64")
	}
}
