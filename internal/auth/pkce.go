package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const verifierLength = 64

// newCodeVerifier generates the PKCE code verifier. It is held in
// memory until the callback arrives and never transmitted up front.
func newCodeVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:verifierLength], nil
}

// codeChallenge derives the S256 challenge sent with the
// authorization request
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
