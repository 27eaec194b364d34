package repository

import (
	"context"

	"coresuite/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	// Upsert inserts u or refreshes its profile fields when the id already exists. Used by cmd/seed.
	Upsert(ctx context.Context, u *domain.User) error
}
