package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/dispatcher"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type StockStore interface {
	DecrementStock(ctx context.Context, q db.DBTX, productID int64, quantity int) (bool, error)
	IncrementStock(ctx context.Context, q db.DBTX, productID int64, quantity int) (bool, error)
	Stock(ctx context.Context, q db.DBTX, productID int64) (int, bool, error)
}

type PublicationStatusReader interface {
	IsComplete(ctx context.Context, q db.DBTX, eventID uuid.UUID, listenerID string) (bool, error)
	Status(ctx context.Context, q db.DBTX, eventID uuid.UUID, listenerID string) (models.PublicationStatus, error)
}

type CacheEvictor interface {
	Evict(ctx context.Context, ids ...int64)
}

// InventoryConsumer reserves stock on checkout and gives it back when an
// order is cancelled. Stock only moves through conditional updates.
type InventoryConsumer struct {
	stock   StockStore
	outbox  PublicationStatusReader
	evictor CacheEvictor
	log     *zap.Logger
}

// NewInventoryConsumer accepts a nil evictor when no product cache is configured.
func NewInventoryConsumer(stock StockStore, outbox PublicationStatusReader, evictor CacheEvictor, log *zap.Logger) *InventoryConsumer {
	return &InventoryConsumer{stock: stock, outbox: outbox, evictor: evictor, log: log}
}

func (c *InventoryConsumer) Listeners() []dispatcher.Listener {
	return []dispatcher.Listener{
		{
			ID:          InventoryReserveListener,
			EventType:   models.CheckoutEventType,
			Lane:        InventoryLane,
			Handle:      c.OnCheckout,
			AfterCommit: c.evictCheckout,
		},
		{
			ID:          InventoryRestoreListener,
			EventType:   models.OrderCancelledEventType,
			Lane:        InventoryLane,
			Handle:      c.OnOrderCancelled,
			AfterCommit: c.evictCancelled,
		},
	}
}

// OnCheckout decrements stock for every item or for none: the first
// rejected update fails the handler and its transaction rolls back.
func (c *InventoryConsumer) OnCheckout(ctx context.Context, tx *sql.Tx, pub models.EventPublication) error {
	done, err := c.outbox.IsComplete(ctx, tx, pub.EventID, InventoryReserveListener)
	if err != nil {
		return err
	}
	if done {
		c.log.Info("checkout already reserved, skipping", zap.Stringer("event_id", pub.EventID))
		return nil
	}

	event, err := decode[models.CheckoutEvent](pub)
	if err != nil {
		return err
	}

	items, err := normalize(checkoutStockItems(event.Items))
	if err != nil {
		return err
	}

	for _, item := range items {
		applied, err := c.stock.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		available, found, err := c.stock.Stock(ctx, tx, item.ProductID)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.NotFound("Product", item.ProductID)
		}
		return apperrors.InsufficientStock(item.ProductID, item.Quantity, available)
	}

	c.log.Info("stock reserved",
		zap.Stringer("event_id", pub.EventID),
		zap.Int64("cart_id", event.CartID),
		zap.Int("items", len(items)),
	)
	return nil
}

// OnOrderCancelled puts the order's quantities back. A reservation that
// was dead-lettered never took stock, so there is nothing to restore.
func (c *InventoryConsumer) OnOrderCancelled(ctx context.Context, tx *sql.Tx, pub models.EventPublication) error {
	done, err := c.outbox.IsComplete(ctx, tx, pub.EventID, InventoryRestoreListener)
	if err != nil {
		return err
	}
	if done {
		c.log.Info("cancellation already restored, skipping", zap.Stringer("event_id", pub.EventID))
		return nil
	}

	event, err := decode[models.OrderCancelledEvent](pub)
	if err != nil {
		return err
	}

	if event.CheckoutEventID != nil {
		status, err := c.outbox.Status(ctx, tx, *event.CheckoutEventID, InventoryReserveListener)
		if err != nil {
			return err
		}
		switch status {
		case models.PublicationFailed, models.PublicationMissing:
			c.log.Warn("reservation was never applied, nothing to restore",
				zap.Int64("order_id", event.OrderID),
				zap.Stringer("checkout_event_id", event.CheckoutEventID),
				zap.String("reservation_status", string(status)),
			)
			return nil
		case models.PublicationPending:
			return apperrors.Transient("restore stock", fmt.Errorf("reservation for order %d still pending", event.OrderID))
		}
	}

	items, err := normalize(event.Items)
	if err != nil {
		return err
	}

	for _, item := range items {
		applied, err := c.stock.IncrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if !applied {
			return apperrors.NotFound("Product", item.ProductID)
		}
	}

	c.log.Info("stock restored",
		zap.Int64("order_id", event.OrderID),
		zap.Int("items", len(items)),
	)
	return nil
}

func (c *InventoryConsumer) evictCheckout(ctx context.Context, pub models.EventPublication) {
	if event, err := decode[models.CheckoutEvent](pub); err == nil {
		c.evict(ctx, checkoutStockItems(event.Items))
	}
}

func (c *InventoryConsumer) evictCancelled(ctx context.Context, pub models.EventPublication) {
	if event, err := decode[models.OrderCancelledEvent](pub); err == nil {
		c.evict(ctx, event.Items)
	}
}

func (c *InventoryConsumer) evict(ctx context.Context, items []models.StockItem) {
	if c.evictor == nil || len(items) == 0 {
		return
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	c.evictor.Evict(ctx, ids...)
}

func checkoutStockItems(items []models.CheckoutItem) []models.StockItem {
	out := make([]models.StockItem, 0, len(items))
	for _, item := range items {
		out = append(out, models.StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// normalize merges lines for the same product and sorts by product id so
// concurrent handlers lock product rows in the same order.
func normalize(items []models.StockItem) ([]models.StockItem, error) {
	if len(items) == 0 {
		return nil, apperrors.Validation("items", "[]", "event has no items")
	}

	totals := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, apperrors.Validation("quantity", item.Quantity, fmt.Sprintf("product %d must have a positive quantity", item.ProductID))
		}
		totals[item.ProductID] += item.Quantity
	}

	out := make([]models.StockItem, 0, len(totals))
	for id, qty := range totals {
		out = append(out, models.StockItem{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
