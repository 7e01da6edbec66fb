package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"homestack-control-plane/internal/db"
	"homestack-control-plane/internal/token/domain"
)

const insertRefreshToken = `INSERT INTO refresh_tokens (id, user_id, token_jti, expires_at, revoked_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const revokeRefreshToken = `UPDATE refresh_tokens SET revoked_at = $2 WHERE token_jti = $1 AND revoked_at IS NULL`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists t. The token must have ID and JTI set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, insertRefreshToken,
		t.ID, t.UserID, t.JTI, t.ExpiresAt, db.NullTime(t.RevokedAt), t.CreatedAt)
	return err
}

// GetByJTI returns the token for jti, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByJTI(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_jti, expires_at, revoked_at, created_at FROM refresh_tokens WHERE token_jti = $1`, jti,
	).Scan(&t.ID, &t.UserID, &t.JTI, &t.ExpiresAt, &revokedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.RevokedAt = db.TimePtr(revokedAt)
	return &t, nil
}

// Rotate inserts next and then revokes oldJTI inside one transaction. If the revoke
// touches no row the transaction rolls back and ErrNotRotatable is returned.
func (r *PostgresRepository) Rotate(ctx context.Context, oldJTI string, next *domain.RefreshToken, revokedAt time.Time) error {
	return db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertRefreshToken,
			next.ID, next.UserID, next.JTI, next.ExpiresAt, db.NullTime(next.RevokedAt), next.CreatedAt); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, revokeRefreshToken, oldJTI, revokedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrNotRotatable
		}
		return nil
	})
}

// Revoke marks jti revoked if it is not already.
func (r *PostgresRepository) Revoke(ctx context.Context, jti string, revokedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, revokeRefreshToken, jti, revokedAt)
	return err
}
