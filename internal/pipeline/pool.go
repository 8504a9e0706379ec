package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

var (
	// ErrPoolStart is returned when the bus subscriptions cannot all be created.
	ErrPoolStart = errors.New("failed to start worker pool")

	// ErrPoolAlreadyStarted is returned by a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrPoolNotStarted is returned by Wait before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("missing pipeline dependency")
)

type runner interface {
	Run(ctx context.Context) error
}

// Pool owns one enrichment worker, one persistence worker and one query responder per
// partition. The set is created once by Start and never resized.
type Pool struct {
	cfg      *Config
	bus      bus.Bus
	enricher Enricher
	store    orders.Store
	queries  *orders.QueryExecutor
	metrics  *metrics.Registry
	logger   *slog.Logger

	mu    sync.Mutex
	group *errgroup.Group
}

// NewPool validates cfg and the collaborators. reg may be nil.
func NewPool(
	cfg *Config,
	b bus.Bus,
	enricher Enricher,
	store orders.Store,
	queries *orders.QueryExecutor,
	reg *metrics.Registry,
	logger *slog.Logger,
) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b == nil:
		return nil, fmt.Errorf("%w: bus", ErrMissingDependency)
	case enricher == nil:
		return nil, fmt.Errorf("%w: enricher", ErrMissingDependency)
	case store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case queries == nil:
		return nil, fmt.Errorf("%w: query executor", ErrMissingDependency)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:      cfg,
		bus:      b,
		enricher: enricher,
		store:    store,
		queries:  queries,
		metrics:  reg,
		logger:   logger,
	}, nil
}

// Partitions returns the fixed partition count.
func (p *Pool) Partitions() int {
	return p.cfg.Partitions
}

// Subjects lists every subject the pool consumes or produces.
func (p *Pool) Subjects() []string {
	stages := []string{bus.StageEnrichment, bus.StagePersist, bus.StageQuery, bus.StageDeadLetter}
	subjects := make([]string, 0, len(stages)*p.cfg.Partitions)

	for _, stage := range stages {
		for i := range p.cfg.Partitions {
			subjects = append(subjects, bus.Subject(p.cfg.SubjectPrefix, stage, i))
		}
	}

	return subjects
}

// Start subscribes every worker before any of them runs, then runs them until ctx ends.
// If a subscription fails, the ones already opened are closed and no worker starts.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.group != nil {
		return ErrPoolAlreadyStarted
	}

	if ensurer, ok := p.bus.(bus.SubjectEnsurer); ok {
		if err := ensurer.EnsureSubjects(ctx, p.Subjects()...); err != nil {
			return fmt.Errorf("%w: %w", ErrPoolStart, err)
		}
	}

	if listener, ok := p.bus.(bus.ReplyListener); ok {
		if err := listener.StartReplies(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrPoolStart, err)
		}
	}

	deps := &workerDeps{
		prefix:      p.cfg.SubjectPrefix,
		bus:         p.bus,
		retrier:     NewRetrier(p.cfg.Retry, p.metrics, p.logger),
		metrics:     p.metrics,
		logger:      p.logger,
		readBackoff: p.cfg.Retry.InitialInterval,
	}

	var (
		subs    []bus.Subscription
		workers []runner
	)

	for i := range p.cfg.Partitions {
		for _, stage := range []string{bus.StageEnrichment, bus.StagePersist, bus.StageQuery} {
			sub, err := p.bus.Subscribe(ctx, bus.Subject(p.cfg.SubjectPrefix, stage, i))
			if err != nil {
				for _, opened := range subs {
					_ = opened.Close()
				}

				return fmt.Errorf("%w: %s partition %d: %w", ErrPoolStart, stage, i, err)
			}

			subs = append(subs, sub)
			workers = append(workers, p.newRunner(stage, i, deps, sub))
		}
	}

	group, gctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		group.Go(func() error {
			return w.Run(gctx)
		})
	}

	p.group = group

	p.logger.Info("Worker pool started",
		slog.Int("partitions", p.cfg.Partitions),
		slog.Int("workers", len(workers)),
		slog.String("prefix", p.cfg.SubjectPrefix),
	)

	return nil
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	p.mu.Lock()
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return ErrPoolNotStarted
	}

	return group.Wait()
}

func (p *Pool) newRunner(stage string, partition int, deps *workerDeps, sub bus.Subscription) runner {
	switch stage {
	case bus.StageEnrichment:
		return newEnrichmentWorker(partition, deps, sub, p.enricher, p.queries.Location())
	case bus.StagePersist:
		return newPersistenceWorker(partition, deps, sub, p.store, p.queries)
	default:
		return newQueryResponder(partition, deps, sub, p.queries)
	}
}
