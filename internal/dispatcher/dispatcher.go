package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// Store is the outbox as seen by the dispatcher.
type Store interface {
	FindPending(ctx context.Context, olderThan time.Duration, listenerIDs []string, limit int) ([]models.EventPublication, error)
	FindUnrouted(ctx context.Context, olderThan time.Duration, known []string, limit int) ([]models.EventPublication, error)
	ClaimForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	MarkComplete(ctx context.Context, q db.DBTX, eventID uuid.UUID, listenerID string) error
	RecordFailure(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	CountPending(ctx context.Context) (int, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Options struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	BatchSize    int
	Workers      int
	MaxAttempts  int
	Backoff      Backoff
}

func OptionsFromConfig(cfg config.DispatcherConfig) Options {
	return Options{
		PollInterval: cfg.PollInterval,
		GracePeriod:  cfg.GracePeriod,
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		MaxAttempts:  cfg.MaxAttempts,
		Backoff:      Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
	}
}

type result int

const (
	resultDelivered result = iota
	resultDeadLettered
	resultRetry
	// resultBlocked means the row was not attempted: someone else holds
	// it, or shutdown interrupted the handler.
	resultBlocked
)

// Dispatcher delivers pending publications to their listeners. Each
// invocation runs in its own transaction together with the completion mark.
type Dispatcher struct {
	store    Store
	txm      Transactor
	registry *Registry
	opts     Options
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
	notify   chan struct{}
}

func New(store Store, txm Transactor, registry *Registry, opts Options, metrics *Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		txm:      txm,
		registry: registry,
		opts:     opts,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
	}
}

// Notify asks for an immediate cycle. Call it after committing a
// transaction that published events. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is cancelled. Notified cycles pick up rows right
// away; polling cycles only pick up rows older than the grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.log.Info("dispatcher started",
		zap.Duration("poll_interval", d.opts.PollInterval),
		zap.Int("workers", d.opts.Workers),
		zap.Int("max_attempts", d.opts.MaxAttempts),
	)
	d.drain(ctx, 0)

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
			d.drain(ctx, d.opts.GracePeriod)
		case <-d.notify:
			d.drain(ctx, 0)
		}
	}
}

// drain repeats cycles while they make progress, so events published by
// listeners are delivered without waiting for the next tick.
func (d *Dispatcher) drain(ctx context.Context, olderThan time.Duration) {
	for ctx.Err() == nil {
		delivered, err := d.RunOnce(ctx, olderThan)
		if err != nil {
			d.log.Error("dispatch cycle failed", zap.Error(err))
			return
		}
		if delivered == 0 {
			return
		}
		olderThan = 0
	}
}

// RunOnce runs one cycle and returns how many publications were delivered.
// Each lane fetches its own batch, so a lane stuck behind a backing-off row
// never starves the others.
func (d *Dispatcher) RunOnce(ctx context.Context, olderThan time.Duration) (int, error) {
	var (
		g         errgroup.Group
		delivered atomic.Int64
	)
	g.SetLimit(d.opts.Workers)
	for _, lane := range d.registry.Lanes() {
		g.Go(func() error {
			rows, err := d.store.FindPending(ctx, olderThan, lane.ListenerIDs, d.opts.BatchSize)
			if err != nil {
				return fmt.Errorf("lane %s: %w", lane.Name, err)
			}
			n, err := d.runLane(ctx, rows)
			delivered.Add(int64(n))
			return err
		})
	}
	// Rows of listeners no longer registered are dead-lettered.
	g.Go(func() error {
		rows, err := d.store.FindUnrouted(ctx, olderThan, d.registry.IDs(), d.opts.BatchSize)
		if err != nil {
			return err
		}
		_, err = d.runLane(ctx, rows)
		return err
	})
	err := g.Wait()

	if pending, countErr := d.store.CountPending(ctx); countErr == nil {
		d.metrics.Pending.Set(float64(pending))
	}
	return int(delivered.Load()), err
}

// runLane delivers rows in order and stops at the first row that cannot be
// delivered yet, so a later row never overtakes an earlier one.
func (d *Dispatcher) runLane(ctx context.Context, rows []models.EventPublication) (int, error) {
	delivered := 0
	for _, pub := range rows {
		if ctx.Err() != nil || !pub.ReadyAt(d.now()) {
			return delivered, nil
		}

		res, err := d.deliver(ctx, pub)
		if err != nil {
			return delivered, err
		}
		switch res {
		case resultDelivered:
			delivered++
		case resultDeadLettered:
		default:
			return delivered, nil
		}
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, pub models.EventPublication) (result, error) {
	log := d.log.With(
		zap.Stringer("publication_id", pub.ID),
		zap.Stringer("event_id", pub.EventID),
		zap.String("event_type", pub.EventType),
		zap.String("listener", pub.ListenerID),
	)

	listener, ok := d.registry.Listener(pub.ListenerID)
	if !ok {
		return d.deadLetter(ctx, log, pub, pub.Attempts, fmt.Errorf("no listener registered with id %q", pub.ListenerID))
	}

	start := d.now()
	claimed := false
	err := d.txm.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := d.store.ClaimForUpdate(ctx, tx, pub.ID)
		if err != nil || !ok {
			return err
		}
		claimed = true
		if err := invoke(ctx, listener.Handle, tx, pub); err != nil {
			return err
		}
		return d.store.MarkComplete(ctx, tx, pub.EventID, pub.ListenerID)
	})
	if claimed {
		d.metrics.Latency.WithLabelValues(pub.ListenerID).Observe(d.now().Sub(start).Seconds())
	}

	if err == nil {
		if !claimed {
			return resultBlocked, nil
		}
		if listener.AfterCommit != nil {
			listener.AfterCommit(ctx, pub)
		}
		d.metrics.Deliveries.WithLabelValues(pub.ListenerID, outcomeDelivered).Inc()
		log.Debug("publication delivered")
		return resultDelivered, nil
	}

	if ctx.Err() != nil {
		return resultBlocked, nil
	}

	attempts := pub.Attempts + 1
	if !apperrors.Retryable(err) || attempts >= d.opts.MaxAttempts {
		return d.deadLetter(ctx, log, pub, attempts, err)
	}

	next := d.now().Add(d.opts.Backoff.Delay(attempts))
	if err := d.store.RecordFailure(ctx, pub.ID, attempts, next, err.Error()); err != nil {
		return resultRetry, err
	}
	d.metrics.Deliveries.WithLabelValues(pub.ListenerID, outcomeRetry).Inc()
	log.Warn("publication failed, will retry",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
	return resultRetry, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, log *zap.Logger, pub models.EventPublication, attempts int, cause error) (result, error) {
	if err := d.store.MarkFailed(ctx, pub.ID, attempts, cause.Error()); err != nil {
		return resultRetry, err
	}
	d.metrics.Deliveries.WithLabelValues(pub.ListenerID, outcomeDeadLettered).Inc()
	log.Error("publication dead-lettered",
		zap.Int("attempts", attempts),
		zap.String("kind", string(apperrors.KindOf(cause))),
		zap.Error(cause),
	)
	return resultDeadLettered, nil
}

// invoke turns a handler panic into a transient error so the row is retried.
func invoke(ctx context.Context, handle HandlerFunc, tx *sql.Tx, pub models.EventPublication) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperrors.Transient("listener panicked", fmt.Errorf("%v", p))
		}
	}()
	return handle(ctx, tx, pub)
}
