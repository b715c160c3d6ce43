package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// apiTokenPrefix marks machine API tokens so they are easy to spot in logs
// and secret scanners.
const apiTokenPrefix = "slm_"

// GenerateAPIToken returns a new random machine API token and its digest.
// Only the digest is stored.
func GenerateAPIToken() (token, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate api token: %w", err)
	}
	token = apiTokenPrefix + hex.EncodeToString(b)
	return token, HashAPIToken(token), nil
}

// HashAPIToken returns the hex SHA-256 digest of token.
func HashAPIToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares a presented token against a stored digest in
// constant time.
func TokenMatches(token, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIToken(token)), []byte(hash)) == 1
}
