package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Unreserved characters (RFC 3986) minus the ones that are easy to confuse
// when read back: 0/O, 1/l/I.
const unambiguousAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789-._~"

const (
	// CodeVerifierLength is within the 43..128 range required for PKCE
	CodeVerifierLength = 64
	// StateLength is the length of the OAuth2 anti-CSRF state parameter
	StateLength = 32
	nonceBytes  = 16
)

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string suitable for generated secrets.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Nonce returns 16 random bytes hex-encoded, for oauth_nonce
func Nonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CodeVerifier returns a PKCE code verifier
func CodeVerifier() (string, error) {
	return RandomString(CodeVerifierLength)
}

// State returns an OAuth2 state parameter
func State() (string, error) {
	return RandomString(StateLength)
}

// RandomString returns n characters drawn uniformly from the unambiguous
// alphabet. Bytes that would bias the distribution are rejected.
func RandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid random string length %d", n)
	}

	alphabetLen := len(unambiguousAlphabet)
	limit := 256 - (256 % alphabetLen)

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, unambiguousAlphabet[int(b)%alphabetLen])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
