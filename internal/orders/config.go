package orders

import (
	"time"
	_ "time/tzdata" // bundled zoneinfo so DISPLAY_TIMEZONE resolves on minimal images

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

const defaultDisplayTimezone = "Asia/Taipei"

// Config holds domain settings shared by the ingress, the workers and the query path.
type Config struct {
	// DisplayLocation is the timezone used for day boundaries, offset-less timestamps
	// and rendering stored timestamps.
	DisplayLocation *time.Location
}

// LoadConfig reads DISPLAY_TIMEZONE, defaulting to Asia/Taipei.
func LoadConfig() *Config {
	fallback, err := time.LoadLocation(defaultDisplayTimezone)
	if err != nil {
		fallback = time.UTC
	}

	return &Config{
		DisplayLocation: config.GetEnvLocation("DISPLAY_TIMEZONE", fallback),
	}
}
