package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *Config) *InMemoryRateLimiter {
	t.Helper()

	rl := NewInMemoryRateLimiter(cfg)
	t.Cleanup(func() { _ = rl.Close() })

	return rl
}

func TestComputeBurstCapacity(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, 200, computeBurstCapacity(100, 0))
	assert.Equal(t, 500, computeBurstCapacity(100, 500))
}

func TestInMemoryRateLimiter_GlobalTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1, GlobalBurst: 3, ClientRPS: 100})

	// Different clients share the global bucket.
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.True(t, rl.Allow("10.0.0.3"))
	assert.False(t, rl.Allow("10.0.0.4"))
}

func TestInMemoryRateLimiter_ClientTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1000, ClientRPS: 1, ClientBurst: 2})

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "third request from the same client exceeds its burst")
	assert.True(t, rl.Allow("10.0.0.2"), "other clients keep their own budget")
	assert.Equal(t, 2, rl.Clients())
}

func TestInMemoryRateLimiter_NoClientTier(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1000})

	for range 10 {
		assert.True(t, rl.Allow("10.0.0.1"))
	}

	assert.Zero(t, rl.Clients())
}

func TestInMemoryRateLimiter_MaxClientsOverflow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1000, ClientRPS: 1, ClientBurst: 1, MaxClients: 1})

	assert.True(t, rl.Allow("a"))
	// b and c share the overflow bucket once the table is full.
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"))
	assert.Equal(t, 1, rl.Clients())
}

func TestInMemoryRateLimiter_Cleanup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1000, ClientRPS: 10, IdleTimeout: time.Minute})

	now := time.Date(2023, 2, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("stale")

	now = now.Add(30 * time.Second)
	rl.Allow("fresh")

	now = now.Add(45 * time.Second)
	rl.cleanup()

	assert.Equal(t, 1, rl.Clients())

	rl.mu.RLock()
	_, ok := rl.perClient["fresh"]
	rl.mu.RUnlock()
	assert.True(t, ok)
}

func TestInMemoryRateLimiter_CloseIdempotent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 1})

	require.NoError(t, rl.Close())
	require.NoError(t, rl.Close())
}

func TestRateLimitMiddleware(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := newTestLimiter(t, &Config{GlobalRPS: 1000, ClientRPS: 1, ClientBurst: 1})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler := Apply(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		WithCorrelationID(),
		WithRateLimit(rl, logger),
	)

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/record", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1:1111").Code)

	// Same host on another port is the same client.
	limited := send("192.0.2.1:2222")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "application/problem+json", limited.Header().Get("Content-Type"))
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), ProblemTypeBase+"429")

	assert.Equal(t, http.StatusOK, send("192.0.2.2:1111").Code)
}

func TestClientKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", clientKey(req))

	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientKey(req))
}

func TestLoadConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("RATE_LIMIT_RPS", "50")
	t.Setenv("RATE_LIMIT_CLIENT_BURST", "7")

	cfg := LoadConfig()

	assert.True(t, cfg.Enabled())
	assert.Equal(t, 50, cfg.GlobalRPS)
	assert.Equal(t, defaultClientRPS, cfg.ClientRPS)
	assert.Equal(t, 7, cfg.ClientBurst)
	assert.Equal(t, rateLimiterIdleTimeout, cfg.IdleTimeout)

	t.Setenv("RATE_LIMIT_RPS", "0")
	assert.False(t, LoadConfig().Enabled())
}
