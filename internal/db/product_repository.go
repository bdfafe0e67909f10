package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

const productColumns = "id, name, description, price_amount, stock, created_at, updated_at"

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(database *PostgresDB) *ProductRepository {
	return &ProductRepository{db: database.Conn}
}

func scanProduct(row interface{ Scan(...any) error }) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceAmount, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetByID returns a single product, or nil when it does not exist.
func (r *ProductRepository) GetByID(ctx context.Context, q DBTX, id int64) (*models.Product, error) {
	if q == nil {
		q = r.db
	}
	query := "SELECT " + productColumns + " FROM products WHERE id = $1"

	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetByIDs loads products in one round trip. Missing ids are left out.
func (r *ProductRepository) GetByIDs(ctx context.Context, q DBTX, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if q == nil {
		q = r.db
	}
	query := "SELECT " + productColumns + " FROM products WHERE id = ANY($1) ORDER BY id"

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// DecrementStock takes quantity out of stock only if enough is left.
// It reports false when the guard rejected the update or the product is missing.
func (r *ProductRepository) DecrementStock(ctx context.Context, q DBTX, productID int64, quantity int) (bool, error) {
	query := `
		UPDATE products SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND stock >= $1
	`
	return r.execAffected(ctx, q, query, quantity, productID)
}

// IncrementStock puts quantity back. It reports false when the product is missing.
func (r *ProductRepository) IncrementStock(ctx context.Context, q DBTX, productID int64, quantity int) (bool, error) {
	query := `
		UPDATE products SET stock = stock + $1, updated_at = now()
		WHERE id = $2
	`
	return r.execAffected(ctx, q, query, quantity, productID)
}

// SetStock overwrites the stock level and returns the updated product.
func (r *ProductRepository) SetStock(ctx context.Context, q DBTX, productID int64, stock int) (*models.Product, error) {
	if q == nil {
		q = r.db
	}
	query := `
		UPDATE products SET stock = $1, updated_at = now()
		WHERE id = $2
		RETURNING ` + productColumns

	p, err := scanProduct(q.QueryRowContext(ctx, query, stock, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}
	return &p, nil
}

// Stock returns the current stock level and whether the product exists.
func (r *ProductRepository) Stock(ctx context.Context, q DBTX, productID int64) (int, bool, error) {
	if q == nil {
		q = r.db
	}
	var stock int
	err := q.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = $1", productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, true, nil
}

func (r *ProductRepository) execAffected(ctx context.Context, q DBTX, query string, args ...any) (bool, error) {
	if q == nil {
		q = r.db
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update stock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}
