package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type OrderService struct {
	txm       Transactor
	orders    OrderStore
	users     *UserService
	products  *ProductService
	publisher EventPublisher
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
}

func NewOrderService(txm Transactor, orders OrderStore, users *UserService, products *ProductService, publisher EventPublisher, notifier Notifier, log *zap.Logger) *OrderService {
	return &OrderService{
		txm:       txm,
		orders:    orders,
		users:     users,
		products:  products,
		publisher: publisher,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// CancelOrder moves a PENDING or PROCESSING order to CANCELLED and records
// OrderCancelledEvent so the inventory listener restores its stock.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := s.txm.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.lockForTransition(ctx, tx, orderID, models.OrderStatusCancelled, "cancel order")
		if err != nil {
			return err
		}

		cancelledAt := s.now().UTC()
		if err := s.orders.UpdateStatus(ctx, tx, order.ID, models.OrderStatusCancelled, &cancelledAt); err != nil {
			return err
		}
		order.Status = models.OrderStatusCancelled
		order.CancelledAt = &cancelledAt

		event := models.OrderCancelledEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			CancelledDate: cancelledAt,
		}
		if checkoutID, err := uuid.Parse(order.CheckoutEventID); err == nil {
			event.CheckoutEventID = &checkoutID
		}
		for _, item := range order.Items {
			event.Items = append(event.Items, models.StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		_, err = s.publisher.Publish(ctx, tx, event)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify()
	s.log.Info("order cancelled", zap.Int64("order_id", order.ID), zap.Int64("user_id", order.UserID))
	return order, nil
}

// AdvanceStatus applies a forward lifecycle transition. Cancellation is
// routed through CancelOrder so stock is restored.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID int64, to models.OrderStatus) (*models.Order, error) {
	if to == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, orderID)
	}

	var order *models.Order
	err := s.txm.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.lockForTransition(ctx, tx, orderID, to, "update order status")
		if err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, tx, order.ID, to, nil); err != nil {
			return err
		}
		order.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order status updated", zap.Int64("order_id", order.ID), zap.String("status", string(to)))
	return order, nil
}

func (s *OrderService) lockForTransition(ctx context.Context, tx *sql.Tx, orderID int64, to models.OrderStatus, op string) (*models.Order, error) {
	order, err := s.orders.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.NotFound("Order", orderID)
	}
	if !order.Status.CanTransitionTo(to) {
		return nil, apperrors.InvalidOperation(op, fmt.Sprintf("order %d is %s", orderID, order.Status))
	}
	return order, nil
}

// GetOrder returns the order with product names filled in.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.NotFound("Order", orderID)
	}
	orders := []models.Order{*order}
	s.enrich(ctx, orders)
	return &orders[0], nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	if err := s.users.ValidateUserExists(ctx, nil, userID); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, orders)
	return orders, nil
}

// enrich fetches every referenced product in one batch. A failed lookup
// leaves names empty rather than failing the read.
func (s *OrderService) enrich(ctx context.Context, orders []models.Order) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, o := range orders {
		for _, item := range o.Items {
			if !seen[item.ProductID] {
				seen[item.ProductID] = true
				ids = append(ids, item.ProductID)
			}
		}
	}
	if len(ids) == 0 {
		return
	}

	products, err := s.products.FindAllProductsByIDs(ctx, ids)
	if err != nil {
		s.log.Warn("failed to load products for orders", zap.Error(err))
		return
	}
	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range orders {
		for j := range orders[i].Items {
			orders[i].Items[j].ProductName = names[orders[i].Items[j].ProductID]
		}
	}
}
