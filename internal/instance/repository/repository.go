package repository

import (
	"context"
	"errors"

	"homestack-control-plane/internal/instance/domain"
)

// Unique-constraint sentinels returned by Create.
var (
	ErrPortTaken = errors.New("instance: host port already allocated")
	ErrUserTaken = errors.New("instance: user already has an instance")
	ErrNameTaken = errors.New("instance: runtime name already in use")
)

// ErrNoRow is returned by Update when the row no longer exists.
var ErrNoRow = errors.New("instance: row not found")

// Repository persists instance rows. Missing rows are returned as nil, nil.
type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Instance, error)
	// UsedPorts returns the host ports in [start, end) currently held by a row.
	UsedPorts(ctx context.Context, start, end int) (map[int]bool, error)
	Create(ctx context.Context, in *domain.Instance) error
	// Update writes runtime_id, status, started_at and updated_at of in.
	Update(ctx context.Context, in *domain.Instance) error
	Delete(ctx context.Context, id string) error
}
