package config

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// source for test migrations
	_ "github.com/lib/pq"                                // PostgreSQL driver
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second

	postgresImage = "postgres:16-alpine"
	kafkaImage    = "confluentinc/confluent-local:7.5.0"
)

type (
	// TestDatabase bundles a PostgreSQL container with an open, migrated connection.
	TestDatabase struct {
		Container  *postgres.PostgresContainer
		Connection *sql.DB
		URL        string
	}

	// TestKafka bundles a single-node Kafka container with its broker addresses.
	TestKafka struct {
		Container *kafka.KafkaContainer
		Brokers   []string
	}
)

// SetupTestDatabase starts PostgreSQL in a container and applies every migration.
// Callers terminate the container with t.Cleanup.
//
//	testDB := config.SetupTestDatabase(ctx, t)
//	t.Cleanup(func() {
//		_ = testDB.Connection.Close()
//		_ = testcontainers.TerminateContainer(testDB.Container)
//	})
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("business_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "Failed to open database")

	if err := RunTestMigrations(conn); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
		URL:        connStr,
	}
}

// SetupTestKafka starts a single-node KRaft Kafka container.
func SetupTestKafka(ctx context.Context, t *testing.T) *TestKafka {
	t.Helper()

	kafkaContainer, err := kafka.Run(ctx, kafkaImage, kafka.WithClusterID("business-test"))
	require.NoError(t, err, "Failed to start kafka container")

	brokers, err := kafkaContainer.Brokers(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(kafkaContainer)

		t.Fatalf("Failed to resolve kafka brokers: %v", err)
	}

	return &TestKafka{
		Container: kafkaContainer,
		Brokers:   brokers,
	}
}

// RunTestMigrations applies the SQL files under migrations/ with a file:// source.
// The relative path assumes the caller lives two directories below the module root
// (internal/storage, internal/api, ...).
func RunTestMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
