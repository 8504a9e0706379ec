// Package aliasing maps the location spellings clients send onto canonical location
// names, so orders and queries for the same site meet in the store.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

type (
	// Config holds location alias configuration loaded from .business-app.yaml.
	Config struct {
		// LocationAliases maps an exact alias (compared case-insensitively) to its
		// canonical location.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		LocationAliases map[string]string `yaml:"location_aliases"`

		// LocationPatterns are tried in order when no exact alias matches.
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		LocationPatterns []LocationPattern `yaml:"location_patterns"`
	}

	// LocationPattern rewrites locations matching Pattern into Canonical.
	// {name} captures up to the next "/", {name*} captures the rest.
	LocationPattern struct {
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}
)

// DefaultConfigPath is the default location of the configuration file.
const DefaultConfigPath = ".business-app.yaml"

// ConfigPathEnvVar overrides DefaultConfigPath.
const ConfigPathEnvVar = "BUSINESS_APP_CONFIG_PATH"

// LoadConfig loads alias configuration from the YAML file at path.
//
// Aliases are optional, so a missing, unreadable or invalid file yields an empty config
// and a log line instead of an error.
func LoadConfig(path string) (*Config, error) {
	cfg := emptyConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing without location aliases",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("Failed to read config file, continuing without location aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing without location aliases",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return emptyConfig(), nil
	}

	if cfg.LocationAliases == nil {
		cfg.LocationAliases = make(map[string]string)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from BUSINESS_APP_CONFIG_PATH, or from
// .business-app.yaml in the working directory.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}

func emptyConfig() *Config {
	return &Config{LocationAliases: make(map[string]string)}
}
