package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // PostgreSQL driver
)

const (
	// DefaultTable is the golang-migrate bookkeeping table.
	DefaultTable = "schema_migrations"

	pingTimeout = 10 * time.Second
)

type (
	// Runner applies the embedded migrations to one database.
	Runner struct {
		migrate *migrate.Migrate
		db      *sql.DB
		source  *Source
		logger  *slog.Logger
	}

	// migrateLogger forwards golang-migrate's verbose output to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner validates the embedded migrations and connects to databaseURL.
func NewRunner(databaseURL, table string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if table == "" {
		table = DefaultTable
	}

	source := NewSource(nil)
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migrations: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(source.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("embedded source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		migrate: m,
		db:      db,
		source:  source,
		logger:  logger,
	}, nil
}

// Up applies all pending migrations. Nothing to apply is not an error.
func (r *Runner) Up() error {
	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("Schema already up to date")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("Migrations applied", slog.Int("latest", r.source.Latest()))

	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down() error {
	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migration to roll back")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Last migration rolled back")

	return nil
}

// Version returns the applied version. A fresh database reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}

	return version, dirty, nil
}

// Status logs the applied version against the newest embedded migration.
func (r *Runner) Status() error {
	version, dirty, err := r.Version()
	if err != nil {
		return err
	}

	latest := r.source.Latest()

	r.logger.Info("Migration status",
		slog.Uint64("database_version", uint64(version)),
		slog.Bool("dirty", dirty),
		slog.Int("embedded_version", latest),
		slog.Int("pending", max(latest-int(version), 0)), //nolint:gosec // versions are small
	)

	return nil
}

// Drop removes every table in the database.
func (r *Runner) Drop() error {
	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	return nil
}

// Close releases the migrate instance and its database handle.
func (r *Runner) Close() error {
	sourceErr, dbErr := r.migrate.Close()

	return errors.Join(sourceErr, dbErr)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
