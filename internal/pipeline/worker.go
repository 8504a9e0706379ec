package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
)

// worker is the loop shared by every stage: read one message, handle it to completion,
// read the next. Messages of one partition are therefore handled strictly in order.
type worker struct {
	stage     string
	partition int
	prefix    string
	sub       bus.Subscription
	bus       bus.Bus
	retrier   *Retrier
	metrics   *metrics.Registry
	logger    *slog.Logger

	// readBackoff is the pause after a transport read error.
	readBackoff time.Duration
}

func newWorker(stage string, partition int, deps *workerDeps, sub bus.Subscription) worker {
	return worker{
		stage:       stage,
		partition:   partition,
		prefix:      deps.prefix,
		sub:         sub,
		bus:         deps.bus,
		retrier:     deps.retrier,
		metrics:     deps.metrics,
		logger:      deps.logger.With(slog.String("stage", stage), slog.Int("partition", partition)),
		readBackoff: deps.readBackoff,
	}
}

// workerDeps are the collaborators every worker shares.
type workerDeps struct {
	prefix      string
	bus         bus.Bus
	retrier     *Retrier
	metrics     *metrics.Registry
	logger      *slog.Logger
	readBackoff time.Duration
}

// run drives handle until ctx ends or the subscription is closed. It closes the
// subscription on return.
func (w *worker) run(ctx context.Context, handle func(context.Context, bus.Message)) error {
	defer func() {
		_ = w.sub.Close()
	}()

	w.logger.Debug("Worker started", slog.String("subject", w.sub.Subject()))

	for {
		msg, err := w.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrSubscriptionClosed) || errors.Is(err, bus.ErrBusClosed) {
				w.logger.Debug("Worker stopped")

				return nil
			}

			w.logger.Warn("Bus read failed", slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.readBackoff):
			}

			continue
		}

		start := time.Now()

		handle(ctx, msg)

		w.metrics.ObserveStage(w.stage, time.Since(start))
	}
}

// drop logs and counts a message that could not be decoded. The loop continues.
func (w *worker) drop(msg bus.Message, err error) {
	w.metrics.IncDropped(w.stage, w.partition)
	w.logger.Warn("Dropping malformed message",
		slog.String("subject", msg.Subject),
		slog.Int("size", len(msg.Data)),
		slog.String("error", err.Error()),
	)
}

// deadLetter publishes msg to the partition's dead-letter subject. Failures are logged.
func (w *worker) deadLetter(ctx context.Context, msg bus.Message, cause error) {
	w.metrics.IncDeadLettered(w.stage, w.partition)
	w.logger.Error("Giving up on message",
		slog.String("subject", msg.Subject),
		slog.String("error", cause.Error()),
	)

	payload := json.RawMessage(msg.Data)
	if !json.Valid(msg.Data) {
		payload, _ = json.Marshal(string(msg.Data))
	}

	data, err := json.Marshal(DeadLetter{
		Stage:     w.stage,
		Partition: w.partition,
		Subject:   msg.Subject,
		Error:     cause.Error(),
		Payload:   payload,
	})
	if err != nil {
		return
	}

	subject := bus.Subject(w.prefix, bus.StageDeadLetter, w.partition)
	if err := w.bus.Publish(ctx, bus.Message{Subject: subject, Data: data}); err != nil {
		w.logger.Error("Dead-letter publish failed", slog.String("error", err.Error()))
	}
}

// reply publishes v to subject once. Replies are advisory, so failures are only logged.
func (w *worker) reply(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("Failed to encode reply", slog.String("error", err.Error()))

		return
	}

	if err := w.bus.Publish(ctx, bus.Message{Subject: subject, Data: data}); err != nil {
		w.logger.Warn("Reply publish failed",
			slog.String("reply", subject),
			slog.String("error", err.Error()),
		)
	}
}

// publishWithRetry publishes msg, retrying transport failures under the worker's policy.
func (w *worker) publishWithRetry(ctx context.Context, msg bus.Message) error {
	err := w.retrier.Do(ctx, w.stage, w.partition, func() error {
		return w.bus.Publish(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	return nil
}
