package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidQuery is returned for a query without a location or with a malformed date.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueryFailed wraps store failures surfaced to query callers.
	ErrQueryFailed = errors.New("query failed")
)

type (
	// OrderQuery selects every stored order of one location on one local calendar day.
	OrderQuery struct {
		Location string `json:"location"`
		Date     string `json:"date"`
	}

	// Store persists normalized orders and reads them back by location and time range.
	Store interface {
		// Insert writes one order and returns it with its assigned id.
		Insert(ctx context.Context, order NormalizedOrder) (StoredOrder, error)

		// QueryRange returns the orders of location with start <= timestamp < end,
		// ordered by timestamp then id. An empty result is an empty slice, not an error.
		QueryRange(ctx context.Context, location string, start, end time.Time) ([]StoredOrder, error)

		// HealthCheck verifies the backend is reachable.
		HealthCheck(ctx context.Context) error
	}

	// Cache is a byte-oriented key/value cache with its own expiry policy.
	// Implementations must be safe for concurrent use.
	Cache interface {
		Get(key string) ([]byte, bool)
		Set(key string, value []byte) error
		Delete(key string) error
	}

	// QueryExecutor answers record and report queries against a Store, reading through an
	// optional Cache. It is shared by the HTTP ingress (direct reads) and the bus query responders.
	QueryExecutor struct {
		store  Store
		cache  Cache
		loc    *time.Location
		logger *slog.Logger

		// cacheMu orders cache writes against invalidations. A read only populates a key
		// whose generation is unchanged since before it queried the store.
		cacheMu     sync.Mutex
		generations map[string]uint64
	}
)

// Validate checks that the query names a location and a YYYY-MM-DD date.
func (q OrderQuery) Validate() error {
	if strings.TrimSpace(q.Location) == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidQuery)
	}

	if _, err := time.Parse(DateLayout, strings.TrimSpace(q.Date)); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrInvalidQuery, q.Date)
	}

	return nil
}

// NewQueryExecutor creates a QueryExecutor. A nil cache disables caching.
func NewQueryExecutor(store Store, cache Cache, loc *time.Location, logger *slog.Logger) *QueryExecutor {
	if loc == nil {
		loc = time.UTC
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &QueryExecutor{
		store:       store,
		cache:       cache,
		loc:         loc,
		logger:      logger,
		generations: make(map[string]uint64),
	}
}

// Location returns the display timezone the executor computes day bounds in.
func (e *QueryExecutor) Location() *time.Location {
	return e.loc
}

// Records returns every order for the query's location and local day, with timestamps
// rendered in the display timezone.
func (e *QueryExecutor) Records(ctx context.Context, q OrderQuery) ([]StoredOrder, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(q.Location, strings.TrimSpace(q.Date))

	if cached, ok := e.fromCache(key); ok {
		return cached, nil
	}

	gen := e.generation(key)

	start, end, err := DayBounds(q.Date, e.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	records, err := e.store.QueryRange(ctx, q.Location, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	views := make([]StoredOrder, 0, len(records))
	for _, r := range records {
		views = append(views, r.In(e.loc))
	}

	e.toCache(key, gen, views)

	return views, nil
}

// Report aggregates Records into one OrderReport.
func (e *QueryExecutor) Report(ctx context.Context, q OrderQuery) (OrderReport, error) {
	records, err := e.Records(ctx, q)
	if err != nil {
		return OrderReport{}, err
	}

	return BuildReport(q.Location, strings.TrimSpace(q.Date), records), nil
}

// Invalidate drops the cached day that order belongs to.
func (e *QueryExecutor) Invalidate(order StoredOrder) {
	if e.cache == nil {
		return
	}

	key := cacheKey(order.Location, LocalDate(order.Timestamp, e.loc))

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	e.generations[key]++

	if err := e.cache.Delete(key); err != nil {
		e.logger.Warn("Failed to invalidate cached records",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (e *QueryExecutor) fromCache(key string) ([]StoredOrder, bool) {
	if e.cache == nil {
		return nil, false
	}

	raw, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}

	var records []StoredOrder
	if err := json.Unmarshal(raw, &records); err != nil {
		e.logger.Warn("Discarding undecodable cache entry",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)

		return nil, false
	}

	for i := range records {
		records[i] = records[i].In(e.loc)
	}

	return records, true
}

func (e *QueryExecutor) generation(key string) uint64 {
	if e.cache == nil {
		return 0
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	return e.generations[key]
}

// toCache stores records unless key was invalidated after gen was read.
func (e *QueryExecutor) toCache(key string, gen uint64, records []StoredOrder) {
	if e.cache == nil {
		return
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if e.generations[key] != gen {
		return
	}

	if err := e.cache.Set(key, raw); err != nil {
		e.logger.Warn("Failed to cache records",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// BuildReport sums quantities and material over records.
func BuildReport(location, date string, records []StoredOrder) OrderReport {
	report := OrderReport{
		Location: location,
		Date:     date,
	}

	for _, r := range records {
		report.Count++
		report.Material += r.Material
		report.Data = report.Data.Add(r.Data)
	}

	return report
}

func cacheKey(location, date string) string {
	return "records/" + location + "/" + date
}
