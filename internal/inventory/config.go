package inventory

import (
	"errors"
	"net/url"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

const defaultTimeout = 5 * time.Second

var (
	// ErrInventoryURLEmpty is returned when INVENTORY_URL is not set.
	ErrInventoryURLEmpty = errors.New("inventory url cannot be empty")

	// ErrInvalidInventoryURL is returned when INVENTORY_URL is not an absolute http(s) URL.
	ErrInvalidInventoryURL = errors.New("inventory url must be an absolute http or https url")
)

// Config holds INVENTORY_* settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// LoadConfig reads INVENTORY_URL and INVENTORY_TIMEOUT.
func LoadConfig() *Config {
	return &Config{
		URL:     config.GetEnvStr("INVENTORY_URL", ""),
		Timeout: config.GetEnvDuration("INVENTORY_TIMEOUT", defaultTimeout),
	}
}

// Validate checks the URL.
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrInventoryURLEmpty
	}

	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidInventoryURL
	}

	return nil
}
