package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/config"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so repositories can run
// inside the caller's transaction or on their own.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresDB struct {
	Conn *sql.DB
}

func NewPostgresDB(cfg config.PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	database, err := Open(connStr)
	if err != nil {
		return nil, err
	}
	database.Conn.SetMaxOpenConns(cfg.MaxOpenConns)
	database.Conn.SetMaxIdleConns(cfg.MaxIdleConns)
	return database, nil
}

// Open connects using a lib/pq connection string or URL.
func Open(dsn string) (*PostgresDB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Conn: conn}, nil
}

func (db *PostgresDB) Close() error {
	return db.Conn.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
