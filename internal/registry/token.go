package registry

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	tokenBytes     = 12
	minTokenLength = 4
	maxTokenLength = 64
)

var readRandom = rand.Read

// NewToken returns a fresh 16 character URL-safe token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := readRandom(buf); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidToken reports whether token is acceptable as an explicit token.
func ValidToken(token string) bool {
	if len(token) < minTokenLength || len(token) > maxTokenLength {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
