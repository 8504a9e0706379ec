package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/bus"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/metrics"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
	"github.com/tsmc-careerhack-2023-c6/business-app/internal/storage"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errInventoryDown = errors.New("inventory down")

// fakeEnricher signs orders locally. It fails the first failures calls, and blocks
// orders whose location is in block until release is closed.
type fakeEnricher struct {
	mu        sync.Mutex
	failures  int
	calls     int
	timestamp string
	block     map[string]bool
	release   chan struct{}
}

func (f *fakeEnricher) Enrich(ctx context.Context, p orders.OrderPayload) (orders.EnrichedOrder, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	blocked := f.block[p.Location]
	f.mu.Unlock()

	if blocked {
		select {
		case <-f.release:
		case <-ctx.Done():
			return orders.EnrichedOrder{}, ctx.Err()
		}
	}

	if fail {
		return orders.EnrichedOrder{}, errInventoryDown
	}

	ts := p.Timestamp
	if f.timestamp != "" {
		ts = f.timestamp
	}

	return orders.EnrichedOrder{
		Location:  p.Location,
		Timestamp: ts,
		Signature: "sig-" + p.Location,
		Material:  p.Data.A + p.Data.B + p.Data.C + p.Data.D,
		Data:      p.Data,
	}, nil
}

func (f *fakeEnricher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// flakyStore fails the first failures inserts and, while gate is open, holds inserts back.
type flakyStore struct {
	*storage.InMemoryOrderStore

	mu        sync.Mutex
	failures  int
	gate      chan struct{}
	queryErr  error
	attempted int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{InMemoryOrderStore: storage.NewInMemoryOrderStore()}
}

func (s *flakyStore) Insert(ctx context.Context, order orders.NormalizedOrder) (orders.StoredOrder, error) {
	s.mu.Lock()
	s.attempted++
	gate := s.gate
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return orders.StoredOrder{}, ctx.Err()
		}
	}

	if fail {
		return orders.StoredOrder{}, storage.ErrNoDatabaseConnection
	}

	return s.InMemoryOrderStore.Insert(ctx, order)
}

func (s *flakyStore) QueryRange(ctx context.Context, location string, start, end time.Time) ([]orders.StoredOrder, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	return s.InMemoryOrderStore.QueryRange(ctx, location, start, end)
}

func (s *flakyStore) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.attempted
}

type harness struct {
	bus     *bus.InMemoryBus
	store   *flakyStore
	pool    *Pool
	ingress *Ingress
	loc     *time.Location
}

func taipei(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	return loc
}

func newHarness(t *testing.T, cfg *Config, enricher Enricher, store *flakyStore) *harness {
	t.Helper()

	loc := taipei(t)
	b := bus.NewInMemoryBus(16)
	queries := orders.NewQueryExecutor(store, nil, loc, nil)

	pool, err := NewPool(cfg, b, enricher, store, queries, metrics.NewRegistry(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))

	router, err := NewRouter(cfg.Partitions)
	require.NoError(t, err)

	ingress, err := NewIngress(cfg, b, router, queries, nil, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, pool.Wait())
		_ = b.Close()
	})

	return &harness{bus: b, store: store, pool: pool, ingress: ingress, loc: loc}
}

func testOrderPayload(location string) orders.OrderPayload {
	return orders.OrderPayload{
		Location:  location,
		Timestamp: "2023-02-10 12:00:00",
		Data:      orders.Quantities{A: 1, B: 2, C: 3, D: 4},
	}
}

func publishJSON(t *testing.T, b bus.Bus, subject string, v any) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), bus.Message{Subject: subject, Data: data}))
}

func TestPipelineStoresExactlyOneRecord(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newHarness(t, testConfig(2), &fakeEnricher{}, newFlakyStore())

	receipt, err := h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.NoError(t, err)
	assert.Nil(t, receipt.Order)
	assert.Less(t, receipt.Partition, 2)

	require.Eventually(t, func() bool { return h.store.Count() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return h.store.Count() > 1 }, 100*time.Millisecond, tick)

	records, err := h.ingress.Records(context.Background(), orders.OrderQuery{Location: "l1", Date: "2023-02-10"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "l1", got.Location)
	assert.Equal(t, "sig-l1", got.Signature)
	assert.Equal(t, 10, got.Material)
	assert.Equal(t, orders.Quantities{A: 1, B: 2, C: 3, D: 4}, got.Data)
	assert.True(t, got.Timestamp.Equal(time.Date(2023, 2, 10, 12, 0, 0, 0, h.loc)))
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	enricher := &fakeEnricher{failures: 3}
	store := newFlakyStore()
	store.failures = 2

	h := newHarness(t, testConfig(1), enricher, store)

	_, err := h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.store.Count() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return h.store.Count() > 1 }, 100*time.Millisecond, tick)

	assert.Equal(t, 4, enricher.Calls())
	assert.Equal(t, 3, store.Attempts())

	stored := h.store.All()[0]
	assert.Equal(t, "sig-l1", stored.Signature)
	assert.Equal(t, 10, stored.Material)
}

func TestPipelinePartitionIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	enricher := &fakeEnricher{
		block:   map[string]bool{"stuck": true},
		release: make(chan struct{}),
	}

	h := newHarness(t, testConfig(2), enricher, newFlakyStore())

	publishJSON(t, h.bus, bus.Subject("orders", bus.StageEnrichment, 0), testOrderPayload("stuck"))
	publishJSON(t, h.bus, bus.Subject("orders", bus.StageEnrichment, 1), testOrderPayload("free"))

	require.Eventually(t, func() bool { return h.store.Count() == 1 }, waitFor, tick,
		"a stalled partition must not hold back the other one")
	assert.Equal(t, "free", h.store.All()[0].Location)

	close(enricher.release)

	require.Eventually(t, func() bool { return h.store.Count() == 2 }, waitFor, tick)
}

func TestPipelineSurvivesMalformedMessages(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(1)
	cfg.ReadMode = ReadModeBus

	h := newHarness(t, cfg, &fakeEnricher{}, newFlakyStore())
	ctx := context.Background()

	garbage := []byte("{not json")

	for _, stage := range []string{bus.StageEnrichment, bus.StagePersist} {
		require.NoError(t, h.bus.Publish(ctx, bus.Message{Subject: bus.Subject("orders", stage, 0), Data: garbage}))
	}

	publishJSON(t, h.bus, bus.Subject("orders", bus.StageEnrichment, 0), map[string]string{"unexpected": "shape"})
	publishJSON(t, h.bus, bus.Subject("orders", bus.StagePersist, 0), map[string]string{"location": "l1"})

	raw, err := h.bus.Request(ctx, bus.Subject("orders", bus.StageQuery, 0), garbage)
	require.NoError(t, err)

	var reply QueryReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, ReplyCodeInvalidQuery, reply.Code)
	assert.NotEmpty(t, reply.Error)

	require.NoError(t, h.bus.Publish(ctx, bus.Message{Subject: bus.Subject("orders", bus.StageQuery, 0), Data: garbage}),
		"a request without reply subject is dropped")

	_, err = h.ingress.Submit(ctx, testOrderPayload("l1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.store.Count() == 1 }, waitFor, tick)

	records, err := h.ingress.Records(ctx, orders.OrderQuery{Location: "l1", Date: "2023-02-10"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPipelineNoRecordBeforeCommit(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	store := newFlakyStore()
	store.gate = make(chan struct{})

	h := newHarness(t, testConfig(1), &fakeEnricher{}, store)
	ctx := context.Background()
	query := orders.OrderQuery{Location: "l1", Date: "2023-02-10"}

	_, err := h.ingress.Submit(ctx, testOrderPayload("l1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.Attempts() == 1 }, waitFor, tick)

	records, err := h.ingress.Records(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)

	close(store.gate)

	require.Eventually(t, func() bool {
		records, err := h.ingress.Records(ctx, query)

		return err == nil && len(records) == 1
	}, waitFor, tick)
}

func TestBusQueriesAndReports(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(2)
	cfg.ReadMode = ReadModeBus

	store := newFlakyStore()
	h := newHarness(t, cfg, &fakeEnricher{}, store)
	ctx := context.Background()

	insert := func(ts time.Time, material int, q orders.Quantities) {
		_, err := store.InMemoryOrderStore.Insert(ctx, orders.NormalizedOrder{
			Location:  "l1",
			Timestamp: ts,
			Signature: "s",
			Material:  material,
			Data:      q,
		})
		require.NoError(t, err)
	}

	insert(time.Date(2023, 2, 10, 0, 0, 0, 0, h.loc), 1, orders.Quantities{A: 1})
	insert(time.Date(2023, 2, 10, 12, 0, 0, 0, h.loc), 2, orders.Quantities{A: 2})
	insert(time.Date(2023, 2, 10, 23, 59, 59, 0, h.loc), 3, orders.Quantities{A: 3})
	insert(time.Date(2023, 2, 11, 0, 0, 0, 0, h.loc), 100, orders.Quantities{A: 100})

	query := orders.OrderQuery{Location: "l1", Date: "2023-02-10"}

	records, err := h.ingress.Records(ctx, query)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, r := range records {
		assert.Equal(t, h.loc, r.Timestamp.Location())
	}

	report, err := h.ingress.Report(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, orders.OrderReport{
		Location: "l1",
		Date:     "2023-02-10",
		Count:    3,
		Material: 6,
		Data:     orders.Quantities{A: 6},
	}, report)

	empty, err := h.ingress.Records(ctx, orders.OrderQuery{Location: "l2", Date: "2023-02-10"})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestBusQueryErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(1)
	cfg.ReadMode = ReadModeBus

	store := newFlakyStore()
	store.queryErr = storage.ErrNoDatabaseConnection

	h := newHarness(t, cfg, &fakeEnricher{}, store)
	ctx := context.Background()

	_, err := h.ingress.Records(ctx, orders.OrderQuery{Location: "l1", Date: "2023-02-10"})
	require.ErrorIs(t, err, orders.ErrQueryFailed)

	_, err = h.ingress.Report(ctx, orders.OrderQuery{Location: "l1", Date: "10/02/2023"})
	require.ErrorIs(t, err, orders.ErrInvalidQuery)
}

func TestConfirmModeReturnsStoredOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(2)
	cfg.WriteMode = WriteModeConfirm

	h := newHarness(t, cfg, &fakeEnricher{failures: 1}, newFlakyStore())

	receipt, err := h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.NoError(t, err)
	require.NotNil(t, receipt.Order)

	assert.Equal(t, int64(1), receipt.Order.ID)
	assert.Equal(t, "sig-l1", receipt.Order.Signature)
	assert.Equal(t, 1, h.store.Count(), "the confirmation follows the commit")
}

func TestConfirmModeTimeout(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(1)
	cfg.WriteMode = WriteModeConfirm
	cfg.RequestTimeout = 50 * time.Millisecond

	enricher := &fakeEnricher{block: map[string]bool{"l1": true}, release: make(chan struct{})}
	h := newHarness(t, cfg, enricher, newFlakyStore())

	_, err := h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.ErrorIs(t, err, ErrWriteTimeout)
	assert.Zero(t, h.store.Count())
}

func TestConfirmModeTimeoutWhenEnrichmentIsBackedUp(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(1)
	cfg.WriteMode = WriteModeConfirm
	cfg.RequestTimeout = 50 * time.Millisecond

	b := bus.NewInMemoryBus(1)
	t.Cleanup(func() { _ = b.Close() })

	subject := bus.Subject(cfg.SubjectPrefix, bus.StageEnrichment, 0)

	// A subscriber that never reads fills the enrichment buffer.
	_, err := b.Subscribe(context.Background(), subject)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), bus.Message{Subject: subject}))

	router, err := NewRouter(cfg.Partitions)
	require.NoError(t, err)

	queries := orders.NewQueryExecutor(newFlakyStore(), nil, taipei(t), nil)
	ingress, err := NewIngress(cfg, b, router, queries, nil, nil)
	require.NoError(t, err)

	_, err = ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.ErrorIs(t, err, ErrWriteTimeout)
	assert.NotErrorIs(t, err, ErrPublishFailed)
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testConfig(1)
	cfg.WriteMode = WriteModeConfirm
	cfg.Retry.MaxAttempts = 2

	enricher := &fakeEnricher{failures: 100}
	h := newHarness(t, cfg, enricher, newFlakyStore())

	deadLetters, err := h.bus.Subscribe(context.Background(), bus.Subject("orders", bus.StageDeadLetter, 0))
	require.NoError(t, err)

	_, err = h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.ErrorIs(t, err, ErrWriteRejected)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	msg, err := deadLetters.Next(ctx)
	require.NoError(t, err)

	var dl DeadLetter
	require.NoError(t, json.Unmarshal(msg.Data, &dl))
	assert.Equal(t, bus.StageEnrichment, dl.Stage)
	assert.Equal(t, 0, dl.Partition)
	assert.Contains(t, dl.Error, errInventoryDown.Error())
	assert.JSONEq(t, string(mustJSON(t, testOrderPayload("l1"))), string(dl.Payload))

	assert.Equal(t, 2, enricher.Calls())
	assert.Zero(t, h.store.Count())
}

func TestUnparseableEnrichedTimestampIsDeadLettered(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	enricher := &fakeEnricher{timestamp: "yesterday"}
	h := newHarness(t, testConfig(1), enricher, newFlakyStore())

	deadLetters, err := h.bus.Subscribe(context.Background(), bus.Subject("orders", bus.StageDeadLetter, 0))
	require.NoError(t, err)

	_, err = h.ingress.Submit(context.Background(), testOrderPayload("l1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	msg, err := deadLetters.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), "normalize")

	assert.Equal(t, 1, enricher.Calls(), "a data error is not retried")
	assert.Zero(t, h.store.Count())
}

func TestSubmitRejectsInvalidOrders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newHarness(t, testConfig(1), &fakeEnricher{}, newFlakyStore())

	bad := testOrderPayload(" ")
	_, err := h.ingress.Submit(context.Background(), bad)
	require.ErrorIs(t, err, orders.ErrInvalidOrder)

	bad = testOrderPayload("l1")
	bad.Timestamp = "soon"
	_, err = h.ingress.Submit(context.Background(), bad)
	require.ErrorIs(t, err, orders.ErrInvalidOrder)
}

type prefixResolver struct{}

func (prefixResolver) Resolve(location string) string {
	return fmt.Sprintf("canon-%s", location)
}

func TestIngressResolvesLocations(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newHarness(t, testConfig(1), &fakeEnricher{}, newFlakyStore())
	h.ingress.resolver = prefixResolver{}

	_, err := h.ingress.Submit(context.Background(), testOrderPayload(" l1 "))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.store.Count() == 1 }, waitFor, tick)
	assert.Equal(t, "canon-l1", h.store.All()[0].Location)

	report, err := h.ingress.Report(context.Background(), orders.OrderQuery{Location: "l1", Date: "2023-02-10"})
	require.NoError(t, err)
	assert.Equal(t, "canon-l1", report.Location)
	assert.Equal(t, 1, report.Count)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}
