package repository

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRepository_Constraints(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	first := newInstance("user-a", 9000)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, newInstance("user-b", 9000)); !errors.Is(err, ErrPortTaken) {
		t.Errorf("same port: want ErrPortTaken, got %v", err)
	}
	if err := repo.Create(ctx, newInstance("user-a", 9001)); !errors.Is(err, ErrUserTaken) {
		t.Errorf("same user: want ErrUserTaken, got %v", err)
	}
}

func TestMemoryRepository_UpdateMissingRow(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.Update(context.Background(), newInstance("user-a", 9000)); !errors.Is(err, ErrNoRow) {
		t.Errorf("want ErrNoRow, got %v", err)
	}
}
