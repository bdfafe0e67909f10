package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type EventPublisher interface {
	Publish(ctx context.Context, tx *sql.Tx, event models.Event) (uuid.UUID, error)
}

// Notifier is told when a commit has left new publications behind.
type Notifier interface {
	Notify()
}

type UserStore interface {
	Exists(ctx context.Context, q db.DBTX, id int64) (bool, error)
}

type ProductStore interface {
	GetByID(ctx context.Context, q db.DBTX, id int64) (*models.Product, error)
	GetByIDs(ctx context.Context, q db.DBTX, ids []int64) ([]models.Product, error)
	SetStock(ctx context.Context, q db.DBTX, productID int64, stock int) (*models.Product, error)
}

// ProductCache is the read-through catalog cache. Optional.
type ProductCache interface {
	GetByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	Evict(ctx context.Context, ids ...int64)
}

type CartStore interface {
	GetOrCreateForUpdate(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error)
	LockByUserID(ctx context.Context, tx *sql.Tx, userID int64) (*models.Cart, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	AddItem(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) error
	SetItemQuantity(ctx context.Context, tx *sql.Tx, cartID, productID int64, quantity int) (bool, error)
	RemoveItem(ctx context.Context, tx *sql.Tx, cartID, productID int64) (bool, error)
	Clear(ctx context.Context, tx *sql.Tx, cartID int64) error
}

type OrderStore interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus, cancelledAt *time.Time) error
}
