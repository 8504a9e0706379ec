package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

// Supported BUS_DRIVER values.
const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
)

const (
	defaultGroupID           = "business-app"
	defaultBatchTimeout      = 10 * time.Millisecond
	defaultReplicationFactor = 1
)

var (
	// ErrUnknownDriver is returned for a BUS_DRIVER other than memory or kafka.
	ErrUnknownDriver = errors.New("unknown bus driver")

	// ErrNoBrokers is returned when the kafka driver has no KAFKA_BROKERS.
	ErrNoBrokers = errors.New("no kafka brokers configured")

	// ErrEmptyGroupID is returned when the kafka driver has no consumer group prefix.
	ErrEmptyGroupID = errors.New("kafka group id cannot be empty")
)

// Config selects and tunes the bus transport.
type Config struct {
	Driver            string
	BufferSize        int
	Brokers           []string
	GroupID           string
	BatchTimeout      time.Duration
	ReplicationFactor int
}

// LoadConfig reads BUS_* and KAFKA_* variables.
func LoadConfig() *Config {
	return &Config{
		Driver:            strings.ToLower(config.GetEnvStr("BUS_DRIVER", DriverMemory)),
		BufferSize:        config.GetEnvInt("BUS_BUFFER_SIZE", defaultBufferSize),
		Brokers:           config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		GroupID:           config.GetEnvStr("KAFKA_GROUP_ID", defaultGroupID),
		BatchTimeout:      config.GetEnvDuration("KAFKA_BATCH_TIMEOUT", defaultBatchTimeout),
		ReplicationFactor: config.GetEnvInt("KAFKA_REPLICATION_FACTOR", defaultReplicationFactor),
	}
}

// Validate checks driver-specific requirements.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverKafka:
		if len(c.Brokers) == 0 {
			return ErrNoBrokers
		}

		if c.GroupID == "" {
			return ErrEmptyGroupID
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}

// New builds the transport selected by cfg.Driver.
func New(cfg *Config, logger *slog.Logger) (Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Driver == DriverKafka {
		return NewKafkaBus(cfg, logger)
	}

	return NewInMemoryBus(cfg.BufferSize), nil
}
