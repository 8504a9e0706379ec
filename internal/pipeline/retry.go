package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
)

// Retrier runs an operation until it succeeds, the attempt limit is reached or the
// context ends. While it is retrying, the worker's stalled gauge reads 1.
type Retrier struct {
	cfg     RetryConfig
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewRetrier creates a Retrier. reg may be nil.
func NewRetrier(cfg RetryConfig, reg *metrics.Registry, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrier{cfg: cfg, metrics: reg, logger: logger}
}

// Do calls op until it returns nil. Returning backoff.Permanent(err) from op stops
// immediately with err. When ctx ends Do returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, stage string, partition int, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.MaxElapsedTime = 0

	var b backoff.BackOff = policy
	if r.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)) //nolint:gosec // positive
	}

	attempts := 0

	defer func() {
		if attempts > 0 {
			r.metrics.SetStalled(stage, partition, false)
		}
	}()

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		attempts++

		if attempts == 1 {
			r.metrics.SetStalled(stage, partition, true)
		}

		r.metrics.IncRetries(stage, partition)
		r.logger.Warn("Attempt failed, retrying",
			slog.String("stage", stage),
			slog.Int("partition", partition),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}
