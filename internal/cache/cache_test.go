package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, ttl time.Duration) *PebbleCache {
	t.Helper()

	c, err := Open(t.TempDir(), ttl, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestPebbleCache_SetGetDelete(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := openTestCache(t, time.Minute)

	_, ok := c.Get("records/l1/2023-02-10")
	assert.False(t, ok)

	require.NoError(t, c.Set("records/l1/2023-02-10", []byte(`[{"id":1}]`)))

	got, ok := c.Get("records/l1/2023-02-10")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":1}]`, string(got))

	require.NoError(t, c.Delete("records/l1/2023-02-10"))
	require.NoError(t, c.Delete("records/l1/2023-02-10"))

	_, ok = c.Get("records/l1/2023-02-10")
	assert.False(t, ok)
}

func TestPebbleCache_Expiry(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := openTestCache(t, 5*time.Second)

	now := time.Date(2023, 2, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v")))

	now = now.Add(4 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must expire at its ttl")
}

func TestPebbleCache_EmptyValue(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := openTestCache(t, time.Minute)

	require.NoError(t, c.Set("empty", nil))

	got, ok := c.Get("empty")
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestPebbleCache_Closed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c, err := Open(t.TempDir(), time.Minute, nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.ErrorIs(t, c.Set("k", []byte("v")), ErrCacheClosed)
	assert.ErrorIs(t, c.Delete("k"), ErrCacheClosed)
}

func TestNew(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("disabled", func(t *testing.T) {
		c, closeFn, err := New(&Config{}, nil)
		require.NoError(t, err)
		assert.IsType(t, NoopCache{}, c)
		assert.NoError(t, closeFn())

		require.NoError(t, c.Set("k", []byte("v")))
		_, ok := c.Get("k")
		assert.False(t, ok)
	})

	t.Run("enabled", func(t *testing.T) {
		c, closeFn, err := New(&Config{Dir: t.TempDir(), TTL: time.Second}, nil)
		require.NoError(t, err)
		assert.IsType(t, &PebbleCache{}, c)
		assert.NoError(t, closeFn())
	})

	t.Run("invalid ttl", func(t *testing.T) {
		_, _, err := New(&Config{Dir: t.TempDir(), TTL: 0}, nil)
		assert.ErrorIs(t, err, ErrInvalidTTL)
	})
}

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("CACHE_DIR", "/var/cache/business")
	t.Setenv("CACHE_TTL", "2s")

	cfg := LoadConfig()
	assert.Equal(t, "/var/cache/business", cfg.Dir)
	assert.Equal(t, 2*time.Second, cfg.TTL)
	assert.True(t, cfg.Enabled())
}
