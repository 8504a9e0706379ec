// Package storage provides the PostgreSQL connection pool and the order stores.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrNoDatabaseConnection is returned when the pool cannot reach PostgreSQL.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrOrderStoreFailed wraps failures of order store operations.
	ErrOrderStoreFailed = errors.New("order store operation failed")
)

// Connection wraps the shared *sql.DB pool. It is created once at startup and injected into
// every component that talks to PostgreSQL; each operation borrows a pooled connection.
type Connection struct {
	*sql.DB
}

// NewConnection opens the pool described by cfg and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoDatabaseConnection, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrNoDatabaseConnection, err)
	}

	return &Connection{DB: db}, nil
}

// HealthCheck pings the database.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNoDatabaseConnection, err)
	}

	return nil
}

// isDatabaseConnectionError reports whether err means the connection itself failed,
// as opposed to a statement error. PostgreSQL class 08 codes are connection exceptions.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	if errors.Is(err, sql.ErrConnDone) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad connection")
}
