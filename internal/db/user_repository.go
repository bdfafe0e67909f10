package db

import (
	"context"
	"database/sql"
	"fmt"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(database *PostgresDB) *UserRepository {
	return &UserRepository{db: database.Conn}
}

func (r *UserRepository) Exists(ctx context.Context, q DBTX, id int64) (bool, error) {
	if q == nil {
		q = r.db
	}
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}
