package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxClients          int     = 10000
	defaultClientRPS           int     = 20
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request from clientKey may proceed.
	RateLimiter interface {
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter is a two-tier token bucket limiter: one bucket shared by every
	// request, and one bucket per client key created on first use.
	//
	// Client buckets idle longer than IdleTimeout are removed by a background sweep.
	// Once MaxClients buckets exist, unknown clients share the overflow bucket.
	InMemoryRateLimiter struct {
		global    *rate.Limiter
		overflow  *rate.Limiter
		perClient map[string]*clientLimiter
		mu        sync.RWMutex
		ticker    *time.Ticker
		done      chan struct{}
		closeOnce sync.Once
		warned    bool

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
		now             func() time.Time
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a limiter from config and starts its cleanup sweep.
// Callers must Close it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	clientBurst := computeBurstCapacity(config.ClientRPS, config.ClientBurst)

	maxClients := config.MaxClients
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		overflow:        rate.NewLimiter(rate.Limit(config.ClientRPS), clientBurst),
		perClient:       make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       config.ClientRPS,
		clientBurst:     clientBurst,
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      maxClients,
		now:             time.Now,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when set, otherwise 2 × rate.
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the client's own bucket.
// A client limit of 0 leaves only the global tier.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	if rl.clientRPS <= 0 {
		return true
	}

	cl := rl.clientFor(clientKey)
	if cl == nil {
		return rl.overflow.Allow()
	}

	cl.mu.Lock()
	cl.lastAccess = rl.now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) clientFor(clientKey string) *clientLimiter {
	rl.mu.RLock()
	cl, ok := rl.perClient[clientKey]
	rl.mu.RUnlock()

	if ok {
		return cl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok = rl.perClient[clientKey]; ok {
		return cl
	}

	if len(rl.perClient) >= rl.maxClients {
		return nil
	}

	cl = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: rl.now(),
	}
	rl.perClient[clientKey] = cl

	if !rl.warned && len(rl.perClient) >= int(float64(rl.maxClients)*thresholdMultiplier) {
		rl.warned = true

		slog.Warn("rate limiter approaching max clients",
			slog.Int("current_clients", len(rl.perClient)),
			slog.Int("max_clients", rl.maxClients))
	}

	return cl
}

// Clients returns the number of tracked client buckets.
func (rl *InMemoryRateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perClient)
}

// Close stops the cleanup sweep. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval <= 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.ticker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes client buckets not used within the idle timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perClient, key)
		}
	}

	if len(rl.perClient) < int(float64(rl.maxClients)*thresholdMultiplier) {
		rl.warned = false
	}
}

// RateLimit rejects requests over the limiter's budget with a 429 problem response.
// Clients are keyed by remote IP.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(clientKey(r)) {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			w.Header().Set("Retry-After", "1")

			detail := "Rate limit exceeded. Please retry after some time."
			if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
				logger.Error("failed to write rate limit response",
					slog.String("correlation_id", correlationID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

// clientKey returns the host part of RemoteAddr, or RemoteAddr itself if it has no port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
