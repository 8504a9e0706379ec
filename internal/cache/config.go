package cache

import (
	"errors"
	"log/slog"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

const defaultTTL = 5 * time.Second

// ErrInvalidTTL is returned when caching is enabled with a non-positive CACHE_TTL.
var ErrInvalidTTL = errors.New("cache ttl must be positive")

// Config holds CACHE_* settings. An empty Dir disables caching.
type Config struct {
	Dir string
	TTL time.Duration
}

// LoadConfig reads CACHE_DIR and CACHE_TTL.
func LoadConfig() *Config {
	return &Config{
		Dir: config.GetEnvStr("CACHE_DIR", ""),
		TTL: config.GetEnvDuration("CACHE_TTL", defaultTTL),
	}
}

// Enabled reports whether a cache directory is configured.
func (c *Config) Enabled() bool {
	return c.Dir != ""
}

// Validate checks the TTL when caching is enabled.
func (c *Config) Validate() error {
	if c.Enabled() && c.TTL <= 0 {
		return ErrInvalidTTL
	}

	return nil
}

// New returns a PebbleCache when cfg is enabled and NoopCache otherwise. The returned
// close function is always non-nil.
func New(cfg *Config, logger *slog.Logger) (orders.Cache, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if !cfg.Enabled() {
		return NoopCache{}, func() error { return nil }, nil
	}

	c, err := Open(cfg.Dir, cfg.TTL, logger)
	if err != nil {
		return nil, nil, err
	}

	return c, c.Close, nil
}
