package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

const orderColumns = "id, user_id, cart_id, checkout_event_id, status, payment_method, total_amount, created_at, updated_at, cancelled_at"

// ErrDuplicateCheckout is returned by Create when an order already exists
// for the checkout event.
var ErrDuplicateCheckout = errors.New("order already exists for checkout event")

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(database *PostgresDB) *OrderRepository {
	return &OrderRepository{db: database.Conn}
}

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var (
		o           models.Order
		status      string
		cancelledAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.CartID, &o.CheckoutEventID, &status, &o.PaymentMethod,
		&o.TotalAmount, &o.CreatedAt, &o.UpdatedAt, &cancelledAt)
	if err != nil {
		return o, err
	}
	o.Status = models.OrderStatus(status)
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	return o, nil
}

// Create inserts an order with its items inside the caller's transaction.
func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	orderQuery := `
		INSERT INTO orders (user_id, cart_id, checkout_event_id, status, payment_method, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, orderQuery,
		order.UserID, order.CartID, order.CheckoutEventID, string(order.Status), order.PaymentMethod, order.TotalAmount,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		err := tx.QueryRowContext(ctx, itemQuery,
			order.ID,
			order.Items[i].ProductID,
			order.Items[i].Quantity,
			order.Items[i].UnitPriceAmount,
		).Scan(&order.Items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// ExistsForCheckout reports whether the checkout event already produced an order.
func (r *OrderRepository) ExistsForCheckout(ctx context.Context, q DBTX, checkoutEventID uuid.UUID) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM orders WHERE checkout_event_id = $1)"
	if err := q.QueryRowContext(ctx, query, checkoutEventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check order for checkout: %w", err)
	}
	return exists, nil
}

// StatusForCheckout returns the status of the order created by the checkout
// event; found is false while no such order exists.
func (r *OrderRepository) StatusForCheckout(ctx context.Context, q DBTX, checkoutEventID uuid.UUID) (status models.OrderStatus, found bool, err error) {
	if q == nil {
		q = r.db
	}
	query := "SELECT status FROM orders WHERE checkout_event_id = $1"
	var raw string
	err = q.QueryRowContext(ctx, query, checkoutEventID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get order status for checkout: %w", err)
	}
	return models.OrderStatus(raw), true, nil
}

// GetForUpdate loads an order with its items and locks the order row.
func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	return r.get(ctx, tx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

// GetByID returns a single order with items, or nil when it does not exist.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.get(ctx, r.db, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *OrderRepository) get(ctx context.Context, q DBTX, query string, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.items(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// ListByUser returns the user's orders, newest first, with items.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = $1 ORDER BY id DESC"

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	byOrder, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

// itemsFor loads the items of several orders in one query, grouped by order id.
func (r *OrderRepository) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	query := `SELECT id, order_id, product_id, quantity, unit_price_amount FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceAmount); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return byOrder, nil
}

func (r *OrderRepository) items(ctx context.Context, q DBTX, orderID int64) ([]models.OrderItem, error) {
	query := `SELECT id, order_id, product_id, quantity, unit_price_amount FROM order_items WHERE order_id = $1 ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPriceAmount); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return items, nil
}

// UpdateStatus sets the status; cancelledAt is stored only when non-nil.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, cancelledAt *time.Time) error {
	query := `
		UPDATE orders SET status = $1, updated_at = now(), cancelled_at = COALESCE($2, cancelled_at)
		WHERE id = $3
	`
	result, err := tx.ExecContext(ctx, query, string(status), cancelledAt, id)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("order %d not found", id)
	}
	return nil
}
