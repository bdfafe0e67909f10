package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecrementStock_Applied(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	mock.ExpectExec(expect("UPDATE products SET stock = stock - $1, updated_at = now() WHERE id = $2 AND stock >= $1")).
		WithArgs(2, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.DecrementStock(context.Background(), database.Conn, 5, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementStock_GuardRejects(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	mock.ExpectExec(expect("WHERE id = $2 AND stock >= $1")).
		WithArgs(11, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DecrementStock(context.Background(), database.Conn, 5, 11)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementStock(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	mock.ExpectExec(expect("UPDATE products SET stock = stock + $1")).
		WithArgs(2, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.IncrementStock(context.Background(), database.Conn, 5, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetByIDs(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "description", "price_amount", "stock", "created_at", "updated_at"}).
		AddRow(int64(5), "Keyboard", "", int64(4999), 10, now, now).
		AddRow(int64(6), "Mouse", "wireless", int64(1999), 3, now, now)
	mock.ExpectQuery(expect("FROM products WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	products, err := repo.GetByIDs(context.Background(), nil, []int64{5, 6})
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Keyboard", products[0].Name)
	assert.Equal(t, int64(1999), products[1].PriceAmount)
}

func TestGetByIDs_Empty(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	products, err := repo.GetByIDs(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStock_Missing(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	mock.ExpectQuery(expect("SELECT stock FROM products WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"stock"}))

	_, found, err := repo.Stock(context.Background(), database.Conn, 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetStock_NotFound(t *testing.T) {
	database, mock := setupMockDB(t)
	repo := NewProductRepository(database)

	mock.ExpectQuery(expect("UPDATE products SET stock = $1")).
		WithArgs(4, int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := repo.SetStock(context.Background(), nil, 42, 4)
	require.NoError(t, err)
	assert.Nil(t, p)
}
