// Package config reads settings from the process environment.
//
// Every getter falls back to its default when the variable is unset or cannot be parsed,
// so a misconfigured value never aborts startup on its own. Packages own their
// LoadConfig/Validate pair and use these helpers to populate it.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvStr returns the value of key, or defaultValue when it is unset or empty.
//
// Example:
//
//	prefix := GetEnvStr("PIPELINE_SUBJECT_PREFIX", "orders")
func GetEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// GetEnvInt returns key parsed as an int.
//
// Example:
//
//	partitions := GetEnvInt("PIPELINE_PARTITIONS", 0)
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// GetEnvInt64 returns key parsed as an int64.
//
// Example:
//
//	size := GetEnvInt64("MAX_REQUEST_SIZE", 1048576)
func GetEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return int64Value
		}
	}

	return defaultValue
}

// GetEnvBool returns key parsed as a bool.
// "true", "1" and "yes" are true; "false", "0" and "no" are false. Matching ignores case.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}

	return defaultValue
}

// GetEnvDuration returns key parsed with time.ParseDuration.
//
// Example:
//
//	timeout := GetEnvDuration("INVENTORY_TIMEOUT", 5*time.Second)
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}

	return defaultValue
}

// GetEnvLogLevel maps key ("debug", "info", "warn", "error") to a slog.Level.
func GetEnvLogLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "debug":
			return slog.LevelDebug
		case "info":
			return slog.LevelInfo
		case "warn", "warning":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		}
	}

	return defaultValue
}

// GetEnvLocation loads the IANA timezone named by key.
// An unknown zone name falls back to defaultValue.
//
// Example:
//
//	loc := GetEnvLocation("DISPLAY_TIMEZONE", time.UTC)
func GetEnvLocation(key string, defaultValue *time.Location) *time.Location {
	if value := os.Getenv(key); value != "" {
		if loc, err := time.LoadLocation(strings.TrimSpace(value)); err == nil {
			return loc
		}
	}

	return defaultValue
}

// ParseCommaSeparatedList splits input on commas and drops empty, whitespace-only entries.
func ParseCommaSeparatedList(input string) []string {
	if input == "" {
		return []string{}
	}

	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
