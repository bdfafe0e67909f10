package db

import (
	"context"
	"database/sql"
	"fmt"
)

type TxManager struct {
	db *sql.DB
}

func NewTxManager(database *PostgresDB) *TxManager {
	return &TxManager{db: database.Conn}
}

func NewTxManagerFromConn(conn *sql.DB) *TxManager {
	return &TxManager{db: conn}
}

// WithTx runs fn in a transaction. The transaction commits only when fn
// returns nil; an error or a panic rolls it back. fn's error is returned
// unwrapped so its kind survives.
func (m *TxManager) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn exposes the pool for reads outside a transaction.
func (m *TxManager) Conn() *sql.DB {
	return m.db
}
