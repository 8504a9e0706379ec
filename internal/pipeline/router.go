package pipeline

import (
	"fmt"
	"math/rand/v2"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

// Router assigns orders to partitions uniformly at random. The partition count is fixed
// for the router's lifetime.
type Router struct {
	partitions int
}

// NewRouter creates a Router over partitions partitions.
func NewRouter(partitions int) (*Router, error) {
	if partitions < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPartitionCount, partitions)
	}

	return &Router{partitions: partitions}, nil
}

// Route returns a partition index in [0, Partitions()). The order's content does not
// influence the choice.
func (r *Router) Route(_ orders.OrderPayload) int {
	return r.Pick()
}

// Pick returns a uniformly random partition index.
func (r *Router) Pick() int {
	return rand.IntN(r.partitions) //nolint:gosec // load spreading, not security
}

// Partitions returns the partition count the router was built with.
func (r *Router) Partitions() int {
	return r.partitions
}
