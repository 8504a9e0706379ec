// Package api provides the HTTP surface of the order pipeline.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/api/middleware"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

const (
	defaultPort           = 8100
	maxPort               = 65535
	defaultHost           = "0.0.0.0"
	defaultTimeout        = 30 * time.Second
	defaultCORSMaxAge     = 24 * time.Hour
	defaultMaxRequestSize = int64(1 << 20)
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxRequestSize indicates the max request size is zero or negative.
	ErrInvalidMaxRequestSize = errors.New("max request size must be positive")
)

// ServerConfig holds the HTTP listener settings. Collaborators go to NewServer.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        slog.Level

	// MaxRequestSize caps the order intake body in bytes.
	MaxRequestSize int64

	// APIKeyHash is the bcrypt hash guarding order intake. Empty leaves intake open.
	APIKeyHash string

	CORS middleware.CORSPolicy
}

// LoadServerConfig reads SERVER_*, MAX_REQUEST_SIZE, API_KEY_HASH and CORS_* variables.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("SERVER_LOG_LEVEL", slog.LevelInfo),
		MaxRequestSize:  config.GetEnvInt64("MAX_REQUEST_SIZE", defaultMaxRequestSize),
		APIKeyHash:      config.GetEnvStr("API_KEY_HASH", ""),
		CORS: middleware.CORSPolicy{
			Origins: config.ParseCommaSeparatedList(config.GetEnvStr("CORS_ALLOWED_ORIGINS", "*")),
			MaxAge:  config.GetEnvDuration("CORS_MAX_AGE", defaultCORSMaxAge),
		},
	}
}

// Address returns host:port.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxRequestSize, c.MaxRequestSize)
	}

	return nil
}
