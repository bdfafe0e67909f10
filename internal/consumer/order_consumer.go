package consumer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/dispatcher"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type OrderStore interface {
	ExistsForCheckout(ctx context.Context, q db.DBTX, checkoutEventID uuid.UUID) (bool, error)
	Create(ctx context.Context, tx *sql.Tx, order *models.Order) error
}

type EventPublisher interface {
	Publish(ctx context.Context, tx *sql.Tx, event models.Event) (uuid.UUID, error)
}

// OrderConsumer turns a checkout into a PENDING order.
type OrderConsumer struct {
	orders    OrderStore
	publisher EventPublisher
	log       *zap.Logger
}

func NewOrderConsumer(orders OrderStore, publisher EventPublisher, log *zap.Logger) *OrderConsumer {
	return &OrderConsumer{orders: orders, publisher: publisher, log: log}
}

func (c *OrderConsumer) Listeners() []dispatcher.Listener {
	return []dispatcher.Listener{{
		ID:        OrderCheckoutListener,
		EventType: models.CheckoutEventType,
		Lane:      OrdersLane,
		Handle:    c.OnCheckout,
	}}
}

// OnCheckout creates the order at most once per checkout event and records
// OrderCreatedEvent in the same transaction.
func (c *OrderConsumer) OnCheckout(ctx context.Context, tx *sql.Tx, pub models.EventPublication) error {
	exists, err := c.orders.ExistsForCheckout(ctx, tx, pub.EventID)
	if err != nil {
		return err
	}
	if exists {
		c.log.Info("order already created for checkout, skipping", zap.Stringer("event_id", pub.EventID))
		return nil
	}

	event, err := decode[models.CheckoutEvent](pub)
	if err != nil {
		return err
	}
	if len(event.Items) == 0 {
		return apperrors.Validation("items", "[]", "checkout event has no items")
	}

	paymentMethod := event.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = models.DefaultPaymentMethod
	}

	order := &models.Order{
		UserID:          event.UserID,
		CartID:          event.CartID,
		CheckoutEventID: pub.EventID.String(),
		Status:          models.OrderStatusPending,
		PaymentMethod:   paymentMethod,
	}
	for _, item := range event.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPriceAmount: item.UnitPriceAmount,
		})
		order.TotalAmount += item.UnitPriceAmount * int64(item.Quantity)
	}

	if err := c.orders.Create(ctx, tx, order); err != nil {
		if errors.Is(err, db.ErrDuplicateCheckout) {
			return apperrors.Transient("create order", err)
		}
		return err
	}

	_, err = c.publisher.Publish(ctx, tx, models.OrderCreatedEvent{
		OrderID:         order.ID,
		UserID:          order.UserID,
		CartID:          order.CartID,
		TotalAmount:     order.TotalAmount,
		CheckoutEventID: pub.EventID,
	})
	if err != nil {
		return err
	}

	c.log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Stringer("checkout_event_id", pub.EventID),
	)
	return nil
}
