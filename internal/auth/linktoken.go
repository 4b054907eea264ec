package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const linkTokenByteLength = 32

// GenerateLinkToken produces a single-use opaque token for email links
// (magic-link login and invitations) together with the hex SHA-256 digest
// stored server-side. The plaintext token leaves the service exactly once.
func GenerateLinkToken() (token string, tokenHash string, err error) {
	buffer := make([]byte, linkTokenByteLength)
	if _, readErr := rand.Read(buffer); readErr != nil {
		return "", "", fmt.Errorf("auth: generate link token: %w", readErr)
	}
	token = base64.RawURLEncoding.EncodeToString(buffer)
	return token, HashLinkToken(token), nil
}

// HashLinkToken returns the hex SHA-256 digest of a link token.
func HashLinkToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// LinkTokenMatches compares a presented token against a stored digest in
// constant time.
func LinkTokenMatches(token string, storedHash string) bool {
	computed := HashLinkToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
