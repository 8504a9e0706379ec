package pipeline

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(partitions int) *Config {
	return &Config{
		SubjectPrefix:  "orders",
		Partitions:     partitions,
		WriteMode:      WriteModeAsync,
		ReadMode:       ReadModeDirect,
		RequestTimeout: time.Second,
		Retry: RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	assert.Equal(t, "orders", cfg.SubjectPrefix)
	assert.Equal(t, runtime.NumCPU(), cfg.Partitions)
	assert.Equal(t, WriteModeAsync, cfg.WriteMode)
	assert.Equal(t, ReadModeDirect, cfg.ReadMode)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxInterval)
	assert.Zero(t, cfg.Retry.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("NATS_TOPIC_PREFIX", "legacy")
	t.Setenv("PIPELINE_PARTITIONS", "3")
	t.Setenv("PIPELINE_WRITE_MODE", "CONFIRM")
	t.Setenv("PIPELINE_READ_MODE", "bus")
	t.Setenv("PIPELINE_RETRY_MAX_ATTEMPTS", "4")

	cfg := LoadConfig()

	assert.Equal(t, "legacy", cfg.SubjectPrefix)
	assert.Equal(t, 3, cfg.Partitions)
	assert.Equal(t, WriteModeConfirm, cfg.WriteMode)
	assert.Equal(t, ReadModeBus, cfg.ReadMode)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)

	t.Setenv("PIPELINE_SUBJECT_PREFIX", "fab")
	assert.Equal(t, "fab", LoadConfig().SubjectPrefix)
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"zero partitions", func(c *Config) { c.Partitions = 0 }, ErrInvalidPartitionCount},
		{"unknown write mode", func(c *Config) { c.WriteMode = "sync" }, ErrInvalidMode},
		{"unknown read mode", func(c *Config) { c.ReadMode = "cache" }, ErrInvalidMode},
		{"empty prefix", func(c *Config) { c.SubjectPrefix = " " }, ErrInvalidMode},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, ErrInvalidMode},
		{"zero interval", func(c *Config) { c.Retry.InitialInterval = 0 }, ErrInvalidRetryPolicy},
		{"inverted intervals", func(c *Config) { c.Retry.MaxInterval = time.Microsecond }, ErrInvalidRetryPolicy},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, ErrInvalidRetryPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(2)
			tt.mutate(cfg)

			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}
