package pipeline

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

// Write modes.
const (
	// WriteModeAsync acknowledges an order once it is published to the enrichment stage.
	WriteModeAsync = "async"

	// WriteModeConfirm acknowledges an order once the persistence stage has stored it.
	WriteModeConfirm = "confirm"
)

// Read modes.
const (
	// ReadModeDirect answers queries from the store in the calling goroutine.
	ReadModeDirect = "direct"

	// ReadModeBus answers queries through the query responders.
	ReadModeBus = "bus"
)

const (
	defaultSubjectPrefix   = "orders"
	defaultRequestTimeout  = 10 * time.Second
	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

var (
	// ErrInvalidPartitionCount is returned for a partition count below one.
	ErrInvalidPartitionCount = errors.New("partition count must be at least 1")

	// ErrInvalidMode is returned for an unknown write or read mode.
	ErrInvalidMode = errors.New("invalid pipeline mode")

	// ErrInvalidRetryPolicy is returned for non-positive backoff intervals or negative attempts.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
)

type (
	// RetryConfig bounds the backoff between failed attempts. MaxAttempts of zero retries
	// until the worker's context ends.
	RetryConfig struct {
		InitialInterval time.Duration
		MaxInterval     time.Duration
		MaxAttempts     int
	}

	// Config holds PIPELINE_* settings.
	Config struct {
		SubjectPrefix  string
		Partitions     int
		WriteMode      string
		ReadMode       string
		RequestTimeout time.Duration
		Retry          RetryConfig
	}
)

// LoadConfig reads PIPELINE_* variables. NATS_TOPIC_PREFIX is honored as a fallback
// subject prefix for existing deployments. A partition count of zero means one per CPU.
func LoadConfig() *Config {
	prefix := config.GetEnvStr("PIPELINE_SUBJECT_PREFIX", "")
	if prefix == "" {
		prefix = config.GetEnvStr("NATS_TOPIC_PREFIX", defaultSubjectPrefix)
	}

	partitions := config.GetEnvInt("PIPELINE_PARTITIONS", 0)
	if partitions == 0 {
		partitions = runtime.NumCPU()
	}

	return &Config{
		SubjectPrefix:  prefix,
		Partitions:     partitions,
		WriteMode:      strings.ToLower(config.GetEnvStr("PIPELINE_WRITE_MODE", WriteModeAsync)),
		ReadMode:       strings.ToLower(config.GetEnvStr("PIPELINE_READ_MODE", ReadModeDirect)),
		RequestTimeout: config.GetEnvDuration("PIPELINE_REQUEST_TIMEOUT", defaultRequestTimeout),
		Retry: RetryConfig{
			InitialInterval: config.GetEnvDuration("PIPELINE_RETRY_INITIAL_INTERVAL", defaultInitialInterval),
			MaxInterval:     config.GetEnvDuration("PIPELINE_RETRY_MAX_INTERVAL", defaultMaxInterval),
			MaxAttempts:     config.GetEnvInt("PIPELINE_RETRY_MAX_ATTEMPTS", 0),
		},
	}
}

// Validate checks every field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SubjectPrefix) == "" {
		return fmt.Errorf("%w: subject prefix cannot be empty", ErrInvalidMode)
	}

	if c.Partitions < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPartitionCount, c.Partitions)
	}

	if c.WriteMode != WriteModeAsync && c.WriteMode != WriteModeConfirm {
		return fmt.Errorf("%w: write mode %q", ErrInvalidMode, c.WriteMode)
	}

	if c.ReadMode != ReadModeDirect && c.ReadMode != ReadModeBus {
		return fmt.Errorf("%w: read mode %q", ErrInvalidMode, c.ReadMode)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidMode)
	}

	return c.Retry.Validate()
}

// Validate checks the backoff bounds.
func (c RetryConfig) Validate() error {
	if c.InitialInterval <= 0 || c.MaxInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidRetryPolicy)
	}

	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("%w: max interval below initial interval", ErrInvalidRetryPolicy)
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts cannot be negative", ErrInvalidRetryPolicy)
	}

	return nil
}
