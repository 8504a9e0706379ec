// Package cache provides the record cache used by order queries: a pebble-backed store
// with per-entry expiry, and a no-op implementation for deployments without a cache dir.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

const expiryPrefixLen = 8

// ErrCacheClosed is returned by Set and Delete after Close.
var ErrCacheClosed = errors.New("cache closed")

type (
	// PebbleCache stores values in a local pebble database. Each value is prefixed with its
	// expiry as big-endian unix nanoseconds; expired entries read as misses and are removed
	// lazily.
	PebbleCache struct {
		db     *pebble.DB
		ttl    time.Duration
		now    func() time.Time
		logger *slog.Logger

		mu     sync.RWMutex
		closed bool
	}

	// NoopCache never stores anything.
	NoopCache struct{}
)

var (
	_ orders.Cache = (*PebbleCache)(nil)
	_ orders.Cache = NoopCache{}
)

// Open opens (or creates) the pebble database in dir.
func Open(dir string, ttl time.Duration, logger *slog.Logger) (*PebbleCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}

	return &PebbleCache{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Get returns the value stored under key if it has not expired.
func (c *PebbleCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false
	}

	raw, closer, err := c.db.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			c.logger.Warn("Cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}

		return nil, false
	}

	defer func() { _ = closer.Close() }()

	if len(raw) < expiryPrefixLen {
		return nil, false
	}

	expiresAt := int64(binary.BigEndian.Uint64(raw[:expiryPrefixLen])) //nolint:gosec // written by Set
	if c.now().UnixNano() >= expiresAt {
		_ = c.db.Delete([]byte(key), pebble.NoSync)

		return nil, false
	}

	// raw is only valid until closer.Close.
	return append([]byte(nil), raw[expiryPrefixLen:]...), true
}

// Set stores value under key for the configured TTL.
func (c *PebbleCache) Set(key string, value []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCacheClosed
	}

	buf := make([]byte, expiryPrefixLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(c.now().Add(c.ttl).UnixNano())) //nolint:gosec // positive
	copy(buf[expiryPrefixLen:], value)

	if err := c.db.Set([]byte(key), buf, pebble.NoSync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *PebbleCache) Delete(key string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCacheClosed
	}

	if err := c.db.Delete([]byte(key), pebble.NoSync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}

	return nil
}

// Close flushes and closes the database. Safe to call more than once.
func (c *PebbleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.db.Close()
}

func (NoopCache) Get(string) ([]byte, bool) { return nil, false }

func (NoopCache) Set(string, []byte) error { return nil }

func (NoopCache) Delete(string) error { return nil }
