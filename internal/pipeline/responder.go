package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

// QueryResponder answers OrderQuery requests from one query subject.
type QueryResponder struct {
	worker

	queries *orders.QueryExecutor
}

func newQueryResponder(partition int, deps *workerDeps, sub bus.Subscription, queries *orders.QueryExecutor) *QueryResponder {
	return &QueryResponder{
		worker:  newWorker(bus.StageQuery, partition, deps, sub),
		queries: queries,
	}
}

// Run handles requests until ctx ends.
func (w *QueryResponder) Run(ctx context.Context) error {
	return w.run(ctx, w.handle)
}

func (w *QueryResponder) handle(ctx context.Context, msg bus.Message) {
	if msg.Reply == "" {
		w.drop(msg, fmt.Errorf("%w: request has no reply subject", bus.ErrInvalidSubject))

		return
	}

	var q orders.OrderQuery
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		w.drop(msg, err)
		w.reply(ctx, msg.Reply, queryErrorReply(fmt.Errorf("%w: undecodable request", orders.ErrInvalidQuery)))

		return
	}

	records, err := w.queries.Records(ctx, q)
	if err != nil {
		w.logger.Warn("Query failed",
			slog.String("location", q.Location),
			slog.String("date", q.Date),
			slog.String("error", err.Error()),
		)
		w.reply(ctx, msg.Reply, queryErrorReply(err))

		return
	}

	w.metrics.IncProcessed(w.stage, w.partition)
	w.reply(ctx, msg.Reply, QueryReply{Records: records})
}
