package consumer

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/dispatcher"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type MessagePublisher interface {
	Publish(ctx context.Context, queue string, msg messaging.Message) error
}

// RelayConsumer forwards order facts to a broker queue for read models
// outside this process. Delivery is at least once; the message id is the
// event id so subscribers can drop duplicates.
type RelayConsumer struct {
	mq    MessagePublisher
	queue string
	log   *zap.Logger
}

func NewRelayConsumer(mq MessagePublisher, queue string, log *zap.Logger) *RelayConsumer {
	return &RelayConsumer{mq: mq, queue: queue, log: log}
}

func (c *RelayConsumer) Listeners() []dispatcher.Listener {
	return []dispatcher.Listener{
		{ID: RelayOrderCreatedListener, EventType: models.OrderCreatedEventType, Lane: RelayLane, Handle: c.Forward},
		{ID: RelayOrderCancelledListener, EventType: models.OrderCancelledEventType, Lane: RelayLane, Handle: c.Forward},
	}
}

func (c *RelayConsumer) Forward(ctx context.Context, _ *sql.Tx, pub models.EventPublication) error {
	msg := messaging.Message{
		ID:   pub.EventID.String(),
		Type: pub.EventType,
		Body: []byte(pub.SerializedEvent),
	}
	if err := c.mq.Publish(ctx, c.queue, msg); err != nil {
		return apperrors.Transient("relay "+pub.EventType, err)
	}

	c.log.Debug("event relayed",
		zap.String("queue", c.queue),
		zap.String("event_type", pub.EventType),
		zap.Stringer("event_id", pub.EventID),
	)
	return nil
}
