package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(database *PostgresDB) *CartRepository {
	return &CartRepository{db: database.Conn}
}

// GetOrCreateForUpdate returns the user's cart with its row locked,
// creating an empty one first when the user has none.
func (r *CartRepository) GetOrCreateForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	insert := `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	cart, err := r.LockByUserID(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, fmt.Errorf("cart for user %d vanished after insert", userID)
	}
	return cart, nil
}

// LockByUserID loads the cart with SELECT ... FOR UPDATE so concurrent
// add-item and checkout calls for one user serialize. It returns nil when
// the user has no cart.
func (r *CartRepository) LockByUserID(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM carts WHERE user_id = $1
		FOR UPDATE
	`
	var cart models.Cart
	err := tx.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	items, err := r.items(ctx, tx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return &cart, nil
}

// GetByUserID reads the cart without locking.
func (r *CartRepository) GetByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`

	var cart models.Cart
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items, err := r.items(ctx, r.db, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return &cart, nil
}

func (r *CartRepository) items(ctx context.Context, q DBTX, cartID int64) ([]models.CartItem, error) {
	query := `SELECT product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id`

	rows, err := q.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart items: %w", err)
	}
	return items, nil
}

// AddItem inserts the product or adds quantity to the existing line.
func (r *CartRepository) AddItem(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`
	if _, err := tx.ExecContext(ctx, query, cartID, productID, quantity); err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return r.touch(ctx, tx, cartID)
}

// SetItemQuantity replaces the quantity of an existing line. It reports
// false when the product is not in the cart.
func (r *CartRepository) SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) (bool, error) {
	query := `UPDATE cart_items SET quantity = $1 WHERE cart_id = $2 AND product_id = $3`

	result, err := tx.ExecContext(ctx, query, quantity, cartID, productID)
	if err != nil {
		return false, fmt.Errorf("failed to update cart item: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	return true, r.touch(ctx, tx, cartID)
}

// RemoveItem reports false when the product is not in the cart.
func (r *CartRepository) RemoveItem(ctx context.Context, tx *sql.Tx, cartID, productID int64) (bool, error) {
	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	result, err := tx.ExecContext(ctx, query, cartID, productID)
	if err != nil {
		return false, fmt.Errorf("failed to remove cart item: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	return true, r.touch(ctx, tx, cartID)
}

// Clear empties the cart. The cart row itself is kept.
func (r *CartRepository) Clear(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return r.touch(ctx, tx, cartID)
}

func (r *CartRepository) touch(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}
