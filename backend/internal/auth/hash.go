package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// APIKeyPrefix marks keys issued by this gateway.
const APIKeyPrefix = "cterm_"

// apiKeyBytes is the entropy of a key: 256 bits.
const apiKeyBytes = 32

// KeyDigest is the SHA3-256 digest of an API key. Only digests are kept in memory or on disk.
type KeyDigest [32]byte

// String renders the digest as hex, the form stored in the database.
func (d KeyDigest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseKeyDigest reverses KeyDigest.String.
func ParseKeyDigest(s string) (KeyDigest, error) {
	var d KeyDigest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("auth: decode key digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("auth: key digest has %d bytes, want %d", len(raw), len(d))
	}
	copy(d[:], raw)
	return d, nil
}

// KeyGenerator produces fresh API keys.
type KeyGenerator func() (string, error)

// GenerateAPIKey returns a new random key of the form cterm_<base64url>.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: read random key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey computes the index digest of key. Surrounding whitespace is ignored.
func HashAPIKey(key string) KeyDigest {
	return sha3.Sum256([]byte(strings.TrimSpace(key)))
}
