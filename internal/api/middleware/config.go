package middleware

import (
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

// Config holds rate limiter configuration.
//
// Two tiers are enforced: a global limit over all requests and a limit per client
// address. A burst of 0 is computed as 2 × rate. A GlobalRPS of 0 disables rate
// limiting.
type Config struct {
	GlobalRPS int
	ClientRPS int

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig loads rate limiter config from RATE_LIMIT_* variables.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:   config.GetEnvInt("RATE_LIMIT_RPS", 0),
		GlobalBurst: config.GetEnvInt("RATE_LIMIT_BURST", 0),
		ClientRPS:   config.GetEnvInt("RATE_LIMIT_CLIENT_RPS", defaultClientRPS),
		ClientBurst: config.GetEnvInt("RATE_LIMIT_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}

// Enabled reports whether a global rate is configured.
func (c *Config) Enabled() bool {
	return c.GlobalRPS > 0
}
