package consumer

import (
	"encoding/json"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

// Listener ids are stored in event_publication.listener_id. Renaming one
// strands its pending rows.
const (
	InventoryReserveListener    = "inventory.reserve-stock"
	InventoryRestoreListener    = "inventory.restore-stock"
	OrderCheckoutListener       = "orders.create-order"
	RelayOrderCreatedListener   = "relay.order-created"
	RelayOrderCancelledListener = "relay.order-cancelled"
)

// Lanes. Rows in one lane are delivered in publication order.
const (
	InventoryLane = "inventory"
	OrdersLane    = "orders"
	RelayLane     = "relay"
)

func decode[T any](pub models.EventPublication) (T, error) {
	var event T
	if err := json.Unmarshal([]byte(pub.SerializedEvent), &event); err != nil {
		return event, apperrors.Malformed(pub.EventType+" payload", err)
	}
	return event, nil
}
