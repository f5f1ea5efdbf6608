package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	// PKCEMethodS256 is the only code_challenge_method the proxy emits.
	PKCEMethodS256 = "S256"

	// verifierEntropyBytes yields a 43 character base64url verifier,
	// the minimum length allowed by RFC 7636.
	verifierEntropyBytes = 32

	// opaqueIDEntropyBytes is the entropy behind every proxy-minted identifier.
	opaqueIDEntropyBytes = 32

	// MinVerifierLength and MaxVerifierLength bound a valid code verifier.
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// PKCEPair is a code verifier together with its S256 challenge.
type PKCEPair struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCE creates a fresh verifier and derives its S256 challenge.
func GeneratePKCE() (*PKCEPair, error) {
	verifier, err := GenerateVerifier()
	if err != nil {
		return nil, err
	}
	return &PKCEPair{
		Verifier:  verifier,
		Challenge: S256Challenge(verifier),
		Method:    PKCEMethodS256,
	}, nil
}

// GenerateVerifier returns a URL-safe random code verifier.
// Unlike oauth2.GenerateVerifier it reports entropy failures instead of panicking.
func GenerateVerifier() (string, error) {
	return randomURLSafe(verifierEntropyBytes)
}

// S256Challenge returns base64url(SHA-256(verifier)) without padding.
func S256Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyS256 reports whether challenge was derived from verifier.
func VerifyS256(verifier, challenge string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	computed := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GenerateOpaqueID returns a 256-bit random identifier encoded as base64url.
func GenerateOpaqueID() (string, error) {
	return randomURLSafe(opaqueIDEntropyBytes)
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
