package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		apiKey string
	}{
		{"short key", "sk-test-123"},
		{"exactly at limit", strings.Repeat("k", bcryptLimit)},
		{"longer than bcrypt limit", strings.Repeat("a", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashAPIKey(tt.apiKey)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(hash, "$2a$"))
			assert.True(t, matchesAPIKey([]byte(hash), tt.apiKey))
			assert.False(t, matchesAPIKey([]byte(hash), tt.apiKey+"x"))
		})
	}
}

func TestHashAPIKey_LongKeysDiffer(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Without the pre-hash bcrypt would ignore everything past byte 72.
	base := strings.Repeat("a", bcryptLimit)

	hash, err := HashAPIKey(base + "-one")
	require.NoError(t, err)

	assert.False(t, matchesAPIKey([]byte(hash), base+"-two"))
}

func TestHashAPIKey_Empty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	hash, err := HashAPIKey("")

	require.ErrorIs(t, err, ErrEmptyAPIKey)
	assert.Empty(t, hash)
	assert.False(t, matchesAPIKey(nil, "key"))
	assert.False(t, matchesAPIKey([]byte("$2a$10$x"), ""))
}
