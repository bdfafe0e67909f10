package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &PostgresDB{Conn: conn}, mock
}

func expect(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	database, mock := setupMockDB(t)
	txm := NewTxManager(database)

	mock.ExpectBegin()
	mock.ExpectExec(expect("DELETE FROM cart_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txm.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM cart_items")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	database, mock := setupMockDB(t)
	txm := NewTxManager(database)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := txm.WithTx(context.Background(), func(tx *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	database, mock := setupMockDB(t)
	txm := NewTxManager(database)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = txm.WithTx(context.Background(), func(tx *sql.Tx) error { panic("handler bug") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
