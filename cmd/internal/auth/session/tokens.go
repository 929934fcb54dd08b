package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenGenerator produces fresh opaque session tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// RandomTokens draws Bytes bytes from crypto/rand and hex-encodes them.
type RandomTokens struct {
	Bytes int
}

// NewToken returns a new random hex token.
func (g RandomTokens) NewToken() (string, error) {
	n := g.Bytes
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}
