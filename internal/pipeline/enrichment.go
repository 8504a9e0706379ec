package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

// Enricher looks an order up in the inventory service.
type Enricher interface {
	Enrich(ctx context.Context, order orders.OrderPayload) (orders.EnrichedOrder, error)
}

// EnrichmentWorker turns OrderPayloads from one enrichment subject into NormalizedOrders
// on the matching persist subject.
type EnrichmentWorker struct {
	worker

	enricher Enricher
	loc      *time.Location
}

func newEnrichmentWorker(partition int, deps *workerDeps, sub bus.Subscription, enricher Enricher, loc *time.Location) *EnrichmentWorker {
	return &EnrichmentWorker{
		worker:   newWorker(bus.StageEnrichment, partition, deps, sub),
		enricher: enricher,
		loc:      loc,
	}
}

// Run handles messages until ctx ends.
func (w *EnrichmentWorker) Run(ctx context.Context) error {
	return w.run(ctx, w.handle)
}

func (w *EnrichmentWorker) handle(ctx context.Context, msg bus.Message) {
	var payload orders.OrderPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		w.drop(msg, err)

		return
	}

	if err := payload.Validate(w.loc); err != nil {
		w.drop(msg, err)

		return
	}

	var enriched orders.EnrichedOrder

	err := w.retrier.Do(ctx, w.stage, w.partition, func() error {
		e, err := w.enricher.Enrich(ctx, payload)
		if err != nil {
			return err
		}

		if err := e.Validate(); err != nil {
			return err
		}

		enriched = e

		return nil
	})
	if err != nil {
		w.giveUp(ctx, msg, err)

		return
	}

	normalized, err := enriched.Normalize(w.loc)
	if err != nil {
		w.giveUp(ctx, msg, fmt.Errorf("normalize: %w", err))

		return
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		w.giveUp(ctx, msg, err)

		return
	}

	next := bus.Message{
		Subject: bus.Subject(w.prefix, bus.StagePersist, w.partition),
		Reply:   msg.Reply,
		Data:    data,
	}

	if err := w.publishWithRetry(ctx, next); err != nil {
		w.giveUp(ctx, msg, err)

		return
	}

	w.metrics.IncProcessed(w.stage, w.partition)
	w.logger.Debug("Order enriched",
		slog.String("location", normalized.Location),
		slog.String("signature", normalized.Signature),
	)
}

// giveUp dead-letters msg and, for a confirmed write, tells the waiting caller. Nothing is
// dead-lettered when the worker is shutting down.
func (w *EnrichmentWorker) giveUp(ctx context.Context, msg bus.Message, err error) {
	if ctx.Err() != nil {
		return
	}

	w.deadLetter(ctx, msg, err)

	if msg.Reply != "" {
		w.reply(ctx, msg.Reply, WriteConfirmation{Error: err.Error()})
	}
}
