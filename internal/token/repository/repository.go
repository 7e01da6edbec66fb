package repository

import (
	"context"
	"errors"
	"time"

	"homestack-control-plane/internal/token/domain"
)

// ErrNotRotatable is returned by Rotate when the old jti is missing or already revoked,
// i.e. another exchange won the race.
var ErrNotRotatable = errors.New("refresh token already exchanged or unknown")

// Repository defines persistence for refresh tokens.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByJTI returns the token for jti, or nil if not found.
	GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error)
	// Rotate inserts next and revokes oldJTI in one transaction, insert first.
	Rotate(ctx context.Context, oldJTI string, next *domain.RefreshToken, revokedAt time.Time) error
	// Revoke marks jti revoked. Revoking an already revoked or unknown jti is not an error.
	Revoke(ctx context.Context, jti string, revokedAt time.Time) error
}
