package storage

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
)

// ErrDatabaseURLEmpty is returned when DATABASE_URL is unset or blank.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL pool settings.
type Config struct {
	databaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration // bound on the startup ping
}

// LoadConfig reads DATABASE_* variables.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		ConnectTimeout:  config.GetEnvDuration("DATABASE_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// NewConfig builds a Config for url with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		ConnectTimeout:  defaultConnectTimeout,
	}
}

// DatabaseURL returns the connection string. Do not log it; use MaskDatabaseURL.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// Validate checks that a database URL is configured.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns the database URL with its password redacted.
// Strings that do not parse as URLs (key=value DSNs) are returned as "***".
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	u, err := url.Parse(c.databaseURL)
	if err != nil || u.Scheme == "" {
		return "***"
	}

	return u.Redacted()
}
