// Package pkce implements the Proof Key for Code Exchange primitives
// (RFC 7636) used to bind authorization codes to this broker.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// RFC 7636 section 4.1 unreserved characters.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	// VerifierMinLength and VerifierMaxLength bound the code verifier
	// per RFC 7636 section 4.1.
	VerifierMinLength = 43
	VerifierMaxLength = 128

	// StateLength is the length of CSRF state tokens.
	StateLength = 32

	// Method is the only challenge method this broker supports.
	Method = "S256"
)

// GenerateVerifier produces a code verifier of random length in
// [VerifierMinLength, VerifierMaxLength] drawn from the RFC 7636
// unreserved alphabet using crypto/rand.
func GenerateVerifier() (string, error) {
	span := int64(VerifierMaxLength - VerifierMinLength + 1)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return "", fmt.Errorf("failed to pick verifier length: %w", err)
	}
	return randomString(VerifierMinLength+int(n.Int64()), verifierAlphabet)
}

// Challenge computes the S256 code challenge for a verifier:
// base64url without padding over SHA-256 of the verifier bytes.
func Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// GenerateState produces an opaque 32-character alphanumeric CSRF token.
func GenerateState() (string, error) {
	return randomString(StateLength, stateAlphabet)
}

// VerifyChallenge reports whether verifier hashes to challenge.
// Comparison is constant time.
func VerifyChallenge(verifier, challenge string) bool {
	computed := Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// Equal compares two in-flight values (state or verifier) in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomString(length int, alphabet string) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
