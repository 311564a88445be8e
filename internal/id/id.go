// Package id provides identifier and secret token generation for agento.
package id

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a random UUID string for agent and provider rows.
func New() string {
	return uuid.NewString()
}

// Short returns the first 8 characters of id, used in container names.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// GatewayToken returns a fresh per-start bearer credential: 24 random bytes,
// base64url encoded without padding.
func GatewayToken() (string, error) {
	b, err := randomBytes(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Secret returns n random bytes as a hex string.
func Secret(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
