package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"homestack-control-plane/internal/db"
	"homestack-control-plane/internal/instance/domain"
)

const instanceColumns = `id, user_id, runtime_id, runtime_name, status, host_port, network, timezone, started_at, created_at, updated_at`

// PostgresRepository implements Repository. The unique constraints on user_id, runtime_name and
// host_port are the only serialization between concurrent provisions.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an instance repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByUserID returns the instance of userID, or nil if none exists.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*domain.Instance, error) {
	var in domain.Instance
	var status string
	var startedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE user_id = $1`, userID).Scan(
		&in.ID, &in.UserID, &in.RuntimeID, &in.RuntimeName, &status, &in.HostPort,
		&in.Network, &in.Timezone, &startedAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	in.Status = domain.Status(status)
	in.StartedAt = db.TimePtr(startedAt)
	return &in, nil
}

// UsedPorts implements Repository.
func (r *PostgresRepository) UsedPorts(ctx context.Context, start, end int) (map[int]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT host_port FROM instances WHERE host_port >= $1 AND host_port < $2`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	used := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		used[p] = true
	}
	return used, rows.Err()
}

// Create inserts in. A unique violation is reported as ErrPortTaken, ErrUserTaken or ErrNameTaken.
func (r *PostgresRepository) Create(ctx context.Context, in *domain.Instance) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		in.ID, in.UserID, in.RuntimeID, in.RuntimeName, string(in.Status), in.HostPort,
		in.Network, in.Timezone, db.NullTime(in.StartedAt), in.CreatedAt, in.UpdatedAt,
	)
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case "instances_host_port_key":
			return ErrPortTaken
		case "instances_user_id_key":
			return ErrUserTaken
		case "instances_runtime_name_key":
			return ErrNameTaken
		}
	}
	return err
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, in *domain.Instance) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE instances SET runtime_id = $2, status = $3, started_at = $4, updated_at = $5 WHERE id = $1`,
		in.ID, in.RuntimeID, string(in.Status), db.NullTime(in.StartedAt), in.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNoRow, in.ID)
	}
	return nil
}

// Delete removes the row, releasing its port and runtime name.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM instances WHERE id = $1`, id)
	return err
}
