package middleware

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost  = 10
	bcryptLimit = 72
)

// ErrEmptyAPIKey is returned when hashing an empty key.
var ErrEmptyAPIKey = errors.New("API key cannot be empty")

// HashAPIKey returns the bcrypt hash to put in API_KEY_HASH.
// Keys longer than bcrypt's 72-byte limit are pre-hashed with SHA-256.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrEmptyAPIKey
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// matchesAPIKey compares apiKey against hash in constant time.
func matchesAPIKey(hash []byte, apiKey string) bool {
	if len(hash) == 0 || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword(hash, bcryptInput(apiKey)) == nil
}

func bcryptInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}
