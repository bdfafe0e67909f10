package models

import (
	"time"

	"github.com/google/uuid"
)

// Event type names double as schema versions. Renaming one is a breaking change.
const (
	CheckoutEventType       = "CheckoutEvent"
	OrderCancelledEventType = "OrderCancelledEvent"
	OrderCreatedEventType   = "OrderCreatedEvent"
)

// Event is a domain fact recorded in the outbox.
type Event interface {
	EventType() string
}

// CheckoutEvent is published when a cart is checked out.
type CheckoutEvent struct {
	CartID        int64          `json:"cartId"`
	UserID        int64          `json:"userId"`
	Items         []CheckoutItem `json:"items"`
	TotalAmount   int64          `json:"totalAmount"`
	PaymentMethod string         `json:"paymentMethod"`
}

type CheckoutItem struct {
	ProductID       int64 `json:"productId"`
	Quantity        int   `json:"quantity"`
	UnitPriceAmount int64 `json:"unitPriceAmount"`
}

func (CheckoutEvent) EventType() string { return CheckoutEventType }

// OrderCancelledEvent carries the quantities to put back into stock.
type OrderCancelledEvent struct {
	OrderID         int64       `json:"orderId"`
	UserID          int64       `json:"userId"`
	Items           []StockItem `json:"items"`
	CancelledDate   time.Time   `json:"cancelledDate"`
	CheckoutEventID *uuid.UUID  `json:"checkoutEventId,omitempty"`
}

type StockItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

func (OrderCancelledEvent) EventType() string { return OrderCancelledEventType }

// OrderCreatedEvent is published when the order saga records a new order.
type OrderCreatedEvent struct {
	OrderID         int64     `json:"orderId"`
	UserID          int64     `json:"userId"`
	CartID          int64     `json:"cartId"`
	TotalAmount     int64     `json:"totalAmount"`
	CheckoutEventID uuid.UUID `json:"checkoutEventId"`
}

func (OrderCreatedEvent) EventType() string { return OrderCreatedEventType }
