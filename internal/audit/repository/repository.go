package repository

import (
	"context"
	"errors"

	"homestack-control-plane/internal/audit/domain"
)

// ErrDuplicateRequest is returned by Create when the request id was already recorded.
var ErrDuplicateRequest = errors.New("audit: request id already recorded")

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the user's rows newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error)
}
