// Package main provides the database migration CLI for the order pipeline.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/storage"
	"github.com/tsmc-careerhack-2023-c6/business-app/migrations"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "migrator"

func main() {
	showHelp := flag.Bool("help", false, "show help information")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("MIGRATOR_LOG_LEVEL", slog.LevelInfo),
	}))

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	table := config.GetEnvStr("MIGRATION_TABLE", migrations.DefaultTable)

	logger.Info("Connecting to database",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.String("migration_table", table),
	)

	runner, err := migrations.NewRunner(storageConfig.DatabaseURL(), table, logger)
	if err != nil {
		logger.Error("Failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = execute(flag.Arg(0), runner)

	_ = runner.Close()

	if err != nil {
		logger.Error("Migration failed", slog.String("command", flag.Arg(0)), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func execute(command string, runner *migrations.Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status", "version":
		return runner.Status()
	case "drop":
		fmt.Print("This drops every table. Continue? (y/N): ")

		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.EqualFold(strings.TrimSpace(answer), "y") {
			return runner.Drop()
		}

		fmt.Println("Cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up       Apply all pending migrations
    down     Roll back the last migration
    status   Show applied and embedded schema versions
    version  Alias for status
    drop     Drop all tables (asks for confirmation)

ENVIRONMENT:
    DATABASE_URL        PostgreSQL connection string (required)
    MIGRATION_TABLE     Bookkeeping table (default: schema_migrations)
    MIGRATOR_LOG_LEVEL  debug, info, warn or error (default: info)
`, name, Version, name)
}
