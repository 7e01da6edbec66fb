package repository

import (
	"context"
	"fmt"
	"sync"

	"homestack-control-plane/internal/instance/domain"
)

// MemoryRepository keeps instance rows in memory and enforces the same unique constraints as
// the instances table. Used in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*domain.Instance
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]*domain.Instance{}}
}

// GetByUserID implements Repository.
func (r *MemoryRepository) GetByUserID(_ context.Context, userID string) (*domain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.rows {
		if in.UserID == userID {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

// UsedPorts implements Repository.
func (r *MemoryRepository) UsedPorts(_ context.Context, start, end int) (map[int]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := map[int]bool{}
	for _, in := range r.rows {
		if in.HostPort >= start && in.HostPort < end {
			used[in.HostPort] = true
		}
	}
	return used, nil
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, in *domain.Instance) error {
	if err := in.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		switch {
		case row.UserID == in.UserID:
			return ErrUserTaken
		case row.HostPort == in.HostPort:
			return ErrPortTaken
		case row.RuntimeName == in.RuntimeName:
			return ErrNameTaken
		}
	}
	cp := *in
	r.rows[in.ID] = &cp
	return nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(_ context.Context, in *domain.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[in.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRow, in.ID)
	}
	row.RuntimeID = in.RuntimeID
	row.Status = in.Status
	row.StartedAt = in.StartedAt
	row.UpdatedAt = in.UpdatedAt
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

// Len returns the number of rows held.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
