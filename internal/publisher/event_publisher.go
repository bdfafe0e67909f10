package publisher

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// ErrNoTransaction is returned when Publish is called without a transaction.
var ErrNoTransaction = errors.New("events must be published inside a transaction")

// Subscriptions resolves the listeners registered for an event type.
type Subscriptions interface {
	ListenerIDs(eventType string) []string
}

type Outbox interface {
	Append(ctx context.Context, tx *sql.Tx, publications ...models.EventPublication) error
}

// EventPublisher records events in the outbox as part of the caller's
// state change. Delivery happens later, from the dispatcher.
type EventPublisher struct {
	outbox Outbox
	subs   Subscriptions
	log    *zap.Logger
	now    func() time.Time
}

func NewEventPublisher(outbox Outbox, subs Subscriptions, log *zap.Logger) *EventPublisher {
	return &EventPublisher{outbox: outbox, subs: subs, log: log, now: time.Now}
}

// Publish appends one publication per subscribed listener and returns the
// event id. It fails if tx is nil or the insert fails; either way the
// caller must roll back.
func (p *EventPublisher) Publish(ctx context.Context, tx *sql.Tx, event models.Event) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, ErrNoTransaction
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal %s: %w", event.EventType(), err)
	}

	eventID := uuid.New()
	listeners := p.subs.ListenerIDs(event.EventType())
	if len(listeners) == 0 {
		p.log.Debug("no listeners for event", zap.String("event_type", event.EventType()))
		return eventID, nil
	}

	publishedAt := p.now()
	pubs := make([]models.EventPublication, 0, len(listeners))
	for _, listenerID := range listeners {
		pubs = append(pubs, models.EventPublication{
			ID:              uuid.New(),
			EventID:         eventID,
			EventType:       event.EventType(),
			ListenerID:      listenerID,
			SerializedEvent: string(payload),
			PublicationDate: publishedAt,
		})
	}

	if err := p.outbox.Append(ctx, tx, pubs...); err != nil {
		return uuid.Nil, err
	}

	p.log.Debug("event published",
		zap.String("event_type", event.EventType()),
		zap.Stringer("event_id", eventID),
		zap.Strings("listeners", listeners),
	)
	return eventID, nil
}
