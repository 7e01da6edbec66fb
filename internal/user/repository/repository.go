package repository

import (
	"context"
	"errors"

	"homestack-control-plane/internal/user/domain"
)

// ErrEmailTaken is returned by Create when the email unique constraint rejects the insert.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for users. Users are never physically deleted.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
