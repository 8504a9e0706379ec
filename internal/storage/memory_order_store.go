package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

// InMemoryOrderStore implements orders.Store in process memory.
// It backs single-process runs without DATABASE_URL and the pipeline tests.
type InMemoryOrderStore struct {
	mu     sync.RWMutex
	orders []orders.StoredOrder
	nextID int64
}

var _ orders.Store = (*InMemoryOrderStore)(nil)

// NewInMemoryOrderStore creates an empty store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{}
}

// Insert appends order with the next id.
func (s *InMemoryOrderStore) Insert(ctx context.Context, order orders.NormalizedOrder) (orders.StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return orders.StoredOrder{}, err
	}

	if err := order.Validate(); err != nil {
		return orders.StoredOrder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := order.Stored(s.nextID)
	s.orders = append(s.orders, stored)

	return stored, nil
}

// QueryRange returns copies of the matching orders ordered by timestamp then id.
func (s *InMemoryOrderStore) QueryRange(
	ctx context.Context,
	location string,
	start, end time.Time,
) ([]orders.StoredOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []orders.StoredOrder{}

	for _, o := range s.orders {
		if o.Location == location && !o.Timestamp.Before(start) && o.Timestamp.Before(end) {
			result = append(result, o)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}

		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// Count returns the number of stored orders.
func (s *InMemoryOrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.orders)
}

// All returns a copy of every stored order in insertion order.
func (s *InMemoryOrderStore) All() []orders.StoredOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]orders.StoredOrder(nil), s.orders...)
}

// HealthCheck always succeeds.
func (s *InMemoryOrderStore) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op; it lets the in-memory store stand in for OrderStore.
func (s *InMemoryOrderStore) Close() error {
	return nil
}
