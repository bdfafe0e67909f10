package services

import (
	"context"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/db"
)

type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// ValidateUserExists returns a NotFound error for unknown users. q may be
// the caller's transaction or nil.
func (s *UserService) ValidateUserExists(ctx context.Context, q db.DBTX, userID int64) error {
	exists, err := s.users.Exists(ctx, q, userID)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("User", userID)
	}
	return nil
}
