package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

var (
	// ErrPublishFailed is returned when an order cannot be handed to the enrichment stage.
	ErrPublishFailed = errors.New("failed to publish order")

	// ErrWriteTimeout is returned in confirm mode when no confirmation arrives in time.
	ErrWriteTimeout = errors.New("order confirmation timed out")

	// ErrWriteRejected is returned in confirm mode when the pipeline gave up on the order.
	ErrWriteRejected = errors.New("order was not stored")
)

type (
	// LocationResolver maps a client-supplied location onto its canonical name.
	LocationResolver interface {
		Resolve(location string) string
	}

	// Receipt acknowledges an accepted order. Order is set only in confirm mode.
	Receipt struct {
		Partition int                 `json:"partition"`
		Order     *orders.StoredOrder `json:"order,omitempty"`
	}

	// Ingress is the caller-facing side of the pipeline: it routes new orders onto the
	// enrichment stage and answers record and report queries.
	Ingress struct {
		cfg      *Config
		bus      bus.Bus
		router   *Router
		queries  *orders.QueryExecutor
		resolver LocationResolver
		logger   *slog.Logger
	}
)

// NewIngress creates an Ingress. resolver may be nil.
func NewIngress(
	cfg *Config,
	b bus.Bus,
	router *Router,
	queries *orders.QueryExecutor,
	resolver LocationResolver,
	logger *slog.Logger,
) (*Ingress, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b == nil:
		return nil, fmt.Errorf("%w: bus", ErrMissingDependency)
	case router == nil:
		return nil, fmt.Errorf("%w: router", ErrMissingDependency)
	case queries == nil:
		return nil, fmt.Errorf("%w: query executor", ErrMissingDependency)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Ingress{
		cfg:      cfg,
		bus:      b,
		router:   router,
		queries:  queries,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// WriteMode reports the configured write mode.
func (i *Ingress) WriteMode() string {
	return i.cfg.WriteMode
}

// Submit validates payload and publishes it to a random enrichment partition. In confirm
// mode it also waits for the persistence stage to report the stored order.
func (i *Ingress) Submit(ctx context.Context, payload orders.OrderPayload) (Receipt, error) {
	payload.Location = i.resolve(payload.Location)

	if err := payload.Validate(i.queries.Location()); err != nil {
		return Receipt{}, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	partition := i.router.Route(payload)
	subject := bus.Subject(i.cfg.SubjectPrefix, bus.StageEnrichment, partition)

	if i.cfg.WriteMode != WriteModeConfirm {
		if err := i.bus.Publish(ctx, bus.Message{Subject: subject, Data: data}); err != nil {
			return Receipt{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}

		return Receipt{Partition: partition}, nil
	}

	rctx, cancel := context.WithTimeout(ctx, i.cfg.RequestTimeout)
	defer cancel()

	raw, err := i.bus.Request(rctx, subject, data)
	if err != nil {
		if errors.Is(err, bus.ErrRequestTimeout) {
			return Receipt{}, fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}

		return Receipt{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	var confirmation WriteConfirmation
	if err := json.Unmarshal(raw, &confirmation); err != nil {
		return Receipt{}, fmt.Errorf("%w: undecodable confirmation: %w", ErrWriteRejected, err)
	}

	if confirmation.Error != "" || confirmation.Order == nil {
		return Receipt{}, fmt.Errorf("%w: %s", ErrWriteRejected, confirmation.Error)
	}

	stored := confirmation.Order.In(i.queries.Location())

	return Receipt{Partition: partition, Order: &stored}, nil
}

// Records returns the orders of one location and local day.
func (i *Ingress) Records(ctx context.Context, q orders.OrderQuery) ([]orders.StoredOrder, error) {
	return i.records(ctx, i.normalizeQuery(q))
}

// Report aggregates the records of one location and local day.
func (i *Ingress) Report(ctx context.Context, q orders.OrderQuery) (orders.OrderReport, error) {
	q = i.normalizeQuery(q)

	records, err := i.records(ctx, q)
	if err != nil {
		return orders.OrderReport{}, err
	}

	return orders.BuildReport(q.Location, q.Date, records), nil
}

func (i *Ingress) normalizeQuery(q orders.OrderQuery) orders.OrderQuery {
	q.Location = i.resolve(q.Location)
	q.Date = strings.TrimSpace(q.Date)

	return q
}

func (i *Ingress) records(ctx context.Context, q orders.OrderQuery) ([]orders.StoredOrder, error) {
	if i.cfg.ReadMode != ReadModeBus {
		return i.queries.Records(ctx, q)
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	return i.requestRecords(ctx, q)
}

func (i *Ingress) requestRecords(ctx context.Context, q orders.OrderQuery) ([]orders.StoredOrder, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orders.ErrQueryFailed, err)
	}

	rctx, cancel := context.WithTimeout(ctx, i.cfg.RequestTimeout)
	defer cancel()

	subject := bus.Subject(i.cfg.SubjectPrefix, bus.StageQuery, i.router.Pick())

	raw, err := i.bus.Request(rctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orders.ErrQueryFailed, err)
	}

	var reply QueryReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: undecodable reply: %w", orders.ErrQueryFailed, err)
	}

	if err := reply.err(); err != nil {
		return nil, err
	}

	records := make([]orders.StoredOrder, 0, len(reply.Records))
	for _, r := range reply.Records {
		records = append(records, r.In(i.queries.Location()))
	}

	return records, nil
}

func (i *Ingress) resolve(location string) string {
	location = strings.TrimSpace(location)
	if i.resolver == nil {
		return location
	}

	return i.resolver.Resolve(location)
}
