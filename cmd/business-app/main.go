// Package main runs the order pipeline: the HTTP API, the partitioned worker pool and
// the bus connecting them.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/aliasing"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/api"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/api/middleware"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/cache"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/inventory"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/pipeline"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/storage"
	"github.com/tsmc-careerhack-2023-c6/business-app/migrations"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
)

const name = "business-app"

type orderStore interface {
	orders.Store
	Close() error
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	hashFlag := flag.Bool("hash-api-key", false, "read an API key from stdin and print its API_KEY_HASH value")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s (commit %s)\n", name, Version, GitCommit)
		os.Exit(0)
	}

	if *hashFlag {
		os.Exit(printAPIKeyHash())
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))
	slog.SetDefault(logger)

	api.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, serverConfig, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1) //nolint:gocritic // stop already ran
	}

	logger.Info("Service stopped")
}

func run(ctx context.Context, serverConfig *api.ServerConfig, logger *slog.Logger) error {
	logger.Info("Starting service",
		slog.String("service", name),
		slog.String("version", Version),
	)

	domainConfig := orders.LoadConfig()

	pipelineConfig := pipeline.LoadConfig()
	if err := pipelineConfig.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close order store", slog.String("error", err.Error()))
		}
	}()

	orderCache, closeCache, err := cache.New(cache.LoadConfig(), logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	defer func() {
		if err := closeCache(); err != nil {
			logger.Error("Failed to close cache", slog.String("error", err.Error()))
		}
	}()

	messageBus, err := bus.New(bus.LoadConfig(), logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	defer func() {
		if err := messageBus.Close(); err != nil {
			logger.Error("Failed to close bus", slog.String("error", err.Error()))
		}
	}()

	enricher, err := inventory.NewClient(inventory.LoadConfig(), logger)
	if err != nil {
		return fmt.Errorf("inventory client: %w", err)
	}

	resolver := loadResolver(logger)
	registry := metrics.NewRegistry()
	queries := orders.NewQueryExecutor(store, orderCache, domainConfig.DisplayLocation, logger)

	pool, err := pipeline.NewPool(pipelineConfig, messageBus, enricher, store, queries, registry, logger)
	if err != nil {
		return err
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if err := pool.Start(workerCtx); err != nil {
		return err
	}

	router, err := pipeline.NewRouter(pipelineConfig.Partitions)
	if err != nil {
		return err
	}

	ingress, err := pipeline.NewIngress(pipelineConfig, messageBus, router, queries, resolver, logger)
	if err != nil {
		return err
	}

	logger.Info("Pipeline configured",
		slog.Int("partitions", pipelineConfig.Partitions),
		slog.String("write_mode", pipelineConfig.WriteMode),
		slog.String("read_mode", pipelineConfig.ReadMode),
		slog.String("display_timezone", domainConfig.DisplayLocation.String()),
	)

	var rateLimiter middleware.RateLimiter

	if rateConfig := middleware.LoadConfig(); rateConfig.Enabled() {
		rateLimiter = middleware.NewInMemoryRateLimiter(rateConfig)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", rateConfig.GlobalRPS),
			slog.Int("client_rps", rateConfig.ClientRPS),
		)
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Orders:      ingress,
		Health:      store,
		Metrics:     registry,
		RateLimiter: rateLimiter,
	}, logger)

	serveErr := server.Start(ctx)

	// The server has drained, so no new work arrives; stop the workers next.
	cancelWorkers()

	if err := pool.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker pool stopped with error", slog.String("error", err.Error()))
	}

	return serveErr
}

// openStore connects to PostgreSQL when DATABASE_URL is set and falls back to the
// in-memory store otherwise.
func openStore(logger *slog.Logger) (orderStore, error) {
	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Warn("DATABASE_URL not set - orders are kept in memory only")

		return storage.NewInMemoryOrderStore(), nil
	}

	if config.GetEnvBool("DATABASE_AUTO_MIGRATE", false) {
		if err := migrate(storageConfig, logger); err != nil {
			return nil, err
		}
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store, err := storage.NewOrderStore(conn, logger)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("order store: %w", err)
	}

	logger.Info("Order store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	return store, nil
}

func migrate(storageConfig *storage.Config, logger *slog.Logger) error {
	runner, err := migrations.NewRunner(
		storageConfig.DatabaseURL(),
		config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultTable),
		logger,
	)
	if err != nil {
		return fmt.Errorf("migration runner: %w", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := runner.Up(); err != nil {
		return err
	}

	return nil
}

// loadResolver reads location aliases. A broken alias file degrades to no aliasing.
func loadResolver(logger *slog.Logger) *aliasing.Resolver {
	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Location aliases not loaded", slog.String("error", err.Error()))
	}

	resolver := aliasing.NewResolver(aliasConfig)

	logger.Info("Location aliasing configured",
		slog.Int("aliases", resolver.AliasCount()),
		slog.Int("patterns", resolver.PatternCount()),
	)

	return resolver
}

func printAPIKeyHash() int {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "no API key on stdin")

		return 1
	}

	hash, err := middleware.HashAPIKey(strings.TrimSpace(line))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}

	fmt.Println(hash)

	return 0
}
