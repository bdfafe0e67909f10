package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type memoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.EventPublication
	// locked rows are held by another worker and cannot be claimed.
	locked map[uuid.UUID]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[uuid.UUID]*models.EventPublication{}, locked: map[uuid.UUID]bool{}}
}

func (s *memoryStore) add(listenerID string, publishedAt time.Time) models.EventPublication {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub := models.EventPublication{
		ID:              uuid.New(),
		EventID:         uuid.New(),
		EventType:       models.CheckoutEventType,
		ListenerID:      listenerID,
		SerializedEvent: `{}`,
		PublicationDate: publishedAt,
	}
	s.rows[pub.ID] = &pub
	return pub
}

func (s *memoryStore) get(id uuid.UUID) models.EventPublication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *memoryStore) pending(match func(listenerID string) bool, limit int) []models.EventPublication {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventPublication
	for _, p := range s.rows {
		if p.Status() == models.PublicationPending && match(p.ListenerID) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicationDate.Before(out[j].PublicationDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memoryStore) FindPending(_ context.Context, _ time.Duration, listenerIDs []string, limit int) ([]models.EventPublication, error) {
	return s.pending(func(id string) bool { return slices.Contains(listenerIDs, id) }, limit), nil
}

func (s *memoryStore) FindUnrouted(_ context.Context, _ time.Duration, known []string, limit int) ([]models.EventPublication, error) {
	return s.pending(func(id string) bool { return !slices.Contains(known, id) }, limit), nil
}

func (s *memoryStore) backOff(id uuid.UUID, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[id].Attempts = 1
	s.rows[id].NextAttemptAt = &until
}

func (s *memoryStore) ClaimForUpdate(_ context.Context, _ *sql.Tx, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	return ok && !s.locked[id] && p.Status() == models.PublicationPending, nil
}

func (s *memoryStore) MarkComplete(_ context.Context, _ db.DBTX, eventID uuid.UUID, listenerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, p := range s.rows {
		if p.EventID == eventID && p.ListenerID == listenerID && p.CompletionDate == nil {
			p.CompletionDate = &now
		}
	}
	return nil
}

func (s *memoryStore) RecordFailure(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.rows[id]
	p.Attempts, p.NextAttemptAt, p.LastError = attempts, &next, lastErr
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	p := s.rows[id]
	p.Attempts, p.LastError, p.FailedDate = attempts, lastErr, &now
	return nil
}

func (s *memoryStore) CountPending(context.Context) (int, error) {
	return len(s.pending(func(string) bool { return true }, 1<<30)), nil
}

type directTx struct{}

func (directTx) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDispatcher(t *testing.T, store Store, registry *Registry) (*Dispatcher, *clock, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	opts := Options{
		PollInterval: time.Hour,
		BatchSize:    100,
		Workers:      4,
		MaxAttempts:  3,
		Backoff:      Backoff{Base: time.Second, Max: time.Minute},
	}
	d := New(store, directTx{}, registry, opts, metrics, zap.NewNop())
	c := &clock{t: time.Now()}
	d.now = c.now
	return d, c, metrics
}

func handlerReturning(rec *recorder, name string, err func() error) HandlerFunc {
	return func(context.Context, *sql.Tx, models.EventPublication) error {
		rec.record(name)
		if err != nil {
			return err()
		}
		return nil
	}
}

func TestRunOnce_DeliversAndCompletes(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	var afterCommit int
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:          "inventory.reserve-stock",
		EventType:   models.CheckoutEventType,
		Handle:      handlerReturning(rec, "reserve", nil),
		AfterCommit: func(context.Context, models.EventPublication) { afterCommit++ },
	})
	d, _, metrics := newTestDispatcher(t, store, registry)
	pub := store.add("inventory.reserve-stock", time.Now())

	n, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, models.PublicationCompleted, store.get(pub.ID).Status())
	assert.Equal(t, 1, afterCommit)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("inventory.reserve-stock", outcomeDelivered)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Pending))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Latency))

	n, err = d.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"reserve"}, rec.snapshot())
}

func TestRunOnce_TransientFailureBacksOffThenSucceeds(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	fail := true
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "orders.create-order",
		EventType: models.CheckoutEventType,
		Handle: handlerReturning(rec, "create", func() error {
			if fail {
				return errors.New("connection reset by peer")
			}
			return nil
		}),
	})
	d, clk, _ := newTestDispatcher(t, store, registry)
	pub := store.add("orders.create-order", time.Now())

	_, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	row := store.get(pub.ID)
	assert.Equal(t, models.PublicationPending, row.Status())
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, "connection reset by peer", row.LastError)
	require.NotNil(t, row.NextAttemptAt)
	assert.Equal(t, clk.now().Add(time.Second), *row.NextAttemptAt)

	_, err = d.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, rec.snapshot(), 1, "row must not be retried before its backoff elapses")

	fail = false
	clk.advance(time.Second)
	n, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.PublicationCompleted, store.get(pub.ID).Status())
}

func TestRunOnce_TransientFailureDeadLettersAfterMaxAttempts(t *testing.T) {
	store := newMemoryStore()
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "orders.create-order",
		EventType: models.CheckoutEventType,
		Handle:    handlerReturning(&recorder{}, "create", func() error { return apperrors.Transient("insert order", errors.New("timeout")) }),
	})
	d, clk, metrics := newTestDispatcher(t, store, registry)
	pub := store.add("orders.create-order", time.Now())

	for i := 0; i < 3; i++ {
		_, err := d.RunOnce(context.Background(), 0)
		require.NoError(t, err)
		clk.advance(time.Minute)
	}

	row := store.get(pub.ID)
	assert.Equal(t, models.PublicationFailed, row.Status())
	assert.Equal(t, 3, row.Attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("orders.create-order", outcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues("orders.create-order", outcomeDeadLettered)))
}

func TestRunOnce_BusinessErrorDeadLettersImmediately(t *testing.T) {
	store := newMemoryStore()
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "inventory.reserve-stock",
		EventType: models.CheckoutEventType,
		Handle:    handlerReturning(&recorder{}, "reserve", func() error { return apperrors.InsufficientStock(5, 3, 1) }),
	})
	d, _, _ := newTestDispatcher(t, store, registry)
	pub := store.add("inventory.reserve-stock", time.Now())

	_, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	row := store.get(pub.ID)
	assert.Equal(t, models.PublicationFailed, row.Status())
	assert.Equal(t, 1, row.Attempts)
	assert.Contains(t, row.LastError, "Insufficient stock for product 5")
}

func TestRunOnce_LaneKeepsOrderBehindFailure(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	base := time.Now()
	first := store.add("inventory.reserve-stock", base)
	second := store.add("inventory.restore-stock", base.Add(time.Millisecond))
	other := store.add("orders.create-order", base.Add(2*time.Millisecond))

	registry := NewRegistry()
	registry.MustRegister(
		Listener{
			ID: "inventory.reserve-stock", EventType: models.CheckoutEventType, Lane: "inventory",
			Handle: handlerReturning(rec, "reserve", func() error { return errors.New("deadlock detected") }),
		},
		Listener{
			ID: "inventory.restore-stock", EventType: models.OrderCancelledEventType, Lane: "inventory",
			Handle: handlerReturning(rec, "restore", nil),
		},
		Listener{
			ID: "orders.create-order", EventType: models.CheckoutEventType, Lane: "orders",
			Handle: handlerReturning(rec, "create", nil),
		},
	)
	d, _, _ := newTestDispatcher(t, store, registry)

	n, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"reserve", "create"}, rec.snapshot())
	assert.Equal(t, models.PublicationPending, store.get(first.ID).Status())
	assert.Equal(t, models.PublicationPending, store.get(second.ID).Status())
	assert.Equal(t, models.PublicationCompleted, store.get(other.ID).Status())
}

func TestRunOnce_DeadLetteredRowDoesNotBlockLane(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	base := time.Now()
	first := store.add("inventory.reserve-stock", base)
	second := store.add("inventory.restore-stock", base.Add(time.Millisecond))

	registry := NewRegistry()
	registry.MustRegister(
		Listener{
			ID: "inventory.reserve-stock", EventType: models.CheckoutEventType, Lane: "inventory",
			Handle: handlerReturning(rec, "reserve", func() error { return apperrors.NotFound("Product", 99) }),
		},
		Listener{
			ID: "inventory.restore-stock", EventType: models.OrderCancelledEventType, Lane: "inventory",
			Handle: handlerReturning(rec, "restore", nil),
		},
	)
	d, _, _ := newTestDispatcher(t, store, registry)

	_, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"reserve", "restore"}, rec.snapshot())
	assert.Equal(t, models.PublicationFailed, store.get(first.ID).Status())
	assert.Equal(t, models.PublicationCompleted, store.get(second.ID).Status())
}

func TestRunOnce_UnknownListenerIsDeadLettered(t *testing.T) {
	store := newMemoryStore()
	d, _, _ := newTestDispatcher(t, store, NewRegistry())
	pub := store.add("legacy.removed-listener", time.Now())

	_, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	row := store.get(pub.ID)
	assert.Equal(t, models.PublicationFailed, row.Status())
	assert.Contains(t, row.LastError, "legacy.removed-listener")
}

func TestRunOnce_PanicIsRetried(t *testing.T) {
	store := newMemoryStore()
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "orders.create-order",
		EventType: models.CheckoutEventType,
		Handle:    func(context.Context, *sql.Tx, models.EventPublication) error { panic("nil map") },
	})
	d, _, _ := newTestDispatcher(t, store, registry)
	pub := store.add("orders.create-order", time.Now())

	_, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	row := store.get(pub.ID)
	assert.Equal(t, models.PublicationPending, row.Status())
	assert.Equal(t, 1, row.Attempts)
	assert.Contains(t, row.LastError, "listener panicked")
}

func TestRun_NotifyTriggersDelivery(t *testing.T) {
	store := newMemoryStore()
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "orders.create-order",
		EventType: models.CheckoutEventType,
		Handle:    handlerReturning(&recorder{}, "create", nil),
	})
	d, _, _ := newTestDispatcher(t, store, registry)
	d.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	pub := store.add("orders.create-order", time.Now())
	d.Notify()

	assert.Eventually(t, func() bool {
		return store.get(pub.ID).Status() == models.PublicationCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestRunOnce_BackedOffLaneDoesNotStarveOthers(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	registry := NewRegistry()
	registry.MustRegister(
		Listener{
			ID: "relay.order-created", EventType: models.OrderCreatedEventType, Lane: "relay",
			Handle: handlerReturning(rec, "relay", func() error { return apperrors.Transient("publish", errors.New("connection refused")) }),
		},
		Listener{
			ID: "inventory.reserve-stock", EventType: models.CheckoutEventType, Lane: "inventory",
			Handle: handlerReturning(rec, "reserve", nil),
		},
	)
	d, clk, _ := newTestDispatcher(t, store, registry)
	d.opts.BatchSize = 3

	base := clk.now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		relay := store.add("relay.order-created", base.Add(time.Duration(i)*time.Millisecond))
		store.backOff(relay.ID, clk.now().Add(time.Hour))
	}
	reserve := store.add("inventory.reserve-stock", base.Add(time.Second))

	n, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"reserve"}, rec.snapshot())
	assert.Equal(t, models.PublicationCompleted, store.get(reserve.ID).Status())
}

func TestRunOnce_UnclaimedRowIsNotTimed(t *testing.T) {
	store := newMemoryStore()
	rec := &recorder{}
	registry := NewRegistry()
	registry.MustRegister(Listener{
		ID:        "orders.create-order",
		EventType: models.CheckoutEventType,
		Handle:    handlerReturning(rec, "create", nil),
	})
	d, _, metrics := newTestDispatcher(t, store, registry)
	pub := store.add("orders.create-order", time.Now())
	store.locked[pub.ID] = true

	n, err := d.RunOnce(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.Latency))
	assert.Equal(t, models.PublicationPending, store.get(pub.ID).Status())
}
