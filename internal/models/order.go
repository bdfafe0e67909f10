package models

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransitionTo reports whether the order lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// ParseOrderStatus accepts any letter case.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

const DefaultPaymentMethod = "CREDIT_CARD"

type Order struct {
	ID              int64       `json:"id"`
	UserID          int64       `json:"user_id"`
	CartID          int64       `json:"cart_id"`
	CheckoutEventID string      `json:"checkout_event_id"`
	Status          OrderStatus `json:"status"`
	PaymentMethod   string      `json:"payment_method"`
	TotalAmount     int64       `json:"total_amount"`
	Items           []OrderItem `json:"items"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	CancelledAt     *time.Time  `json:"cancelled_at,omitempty"`
}

// OrderItem is the product snapshot taken at checkout. ProductName is
// filled from the catalog on read and is not persisted.
type OrderItem struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"order_id"`
	ProductID       int64  `json:"product_id"`
	ProductName     string `json:"product_name,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPriceAmount int64  `json:"unit_price_amount"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
