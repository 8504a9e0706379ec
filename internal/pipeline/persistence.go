package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

// PersistenceWorker stores NormalizedOrders from one persist subject.
type PersistenceWorker struct {
	worker

	store   orders.Store
	queries *orders.QueryExecutor
}

func newPersistenceWorker(partition int, deps *workerDeps, sub bus.Subscription, store orders.Store, queries *orders.QueryExecutor) *PersistenceWorker {
	return &PersistenceWorker{
		worker:  newWorker(bus.StagePersist, partition, deps, sub),
		store:   store,
		queries: queries,
	}
}

// Run handles messages until ctx ends.
func (w *PersistenceWorker) Run(ctx context.Context) error {
	return w.run(ctx, w.handle)
}

func (w *PersistenceWorker) handle(ctx context.Context, msg bus.Message) {
	var order orders.NormalizedOrder
	if err := json.Unmarshal(msg.Data, &order); err != nil {
		w.drop(msg, err)

		return
	}

	if err := order.Validate(); err != nil {
		w.drop(msg, err)

		return
	}

	var stored orders.StoredOrder

	// Each attempt goes back to the store's pool, so a broken connection is replaced
	// on the next attempt.
	err := w.retrier.Do(ctx, w.stage, w.partition, func() error {
		s, err := w.store.Insert(ctx, order)
		if err != nil {
			return err
		}

		stored = s

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		w.deadLetter(ctx, msg, err)

		if msg.Reply != "" {
			w.reply(ctx, msg.Reply, WriteConfirmation{Error: err.Error()})
		}

		return
	}

	if w.queries != nil {
		w.queries.Invalidate(stored)
	}

	w.metrics.IncProcessed(w.stage, w.partition)
	w.logger.Debug("Order stored",
		slog.Int64("id", stored.ID),
		slog.String("location", stored.Location),
	)

	if msg.Reply != "" {
		w.reply(ctx, msg.Reply, WriteConfirmation{Order: &stored})
	}
}
