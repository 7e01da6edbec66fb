package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"homestack-control-plane/internal/audit/domain"
	"homestack-control-plane/internal/db"
)

const auditColumns = `id, request_id, user_id, device_id, input_text, intent, action_result, status,
latency_ms, llm_tokens, error_message, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts a. Returns ErrDuplicateRequest when a row for the request id exists.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.RequestID, a.UserID, a.DeviceID, a.InputText, nullJSON(a.Intent), nullJSON(a.ActionResult),
		string(a.Status), a.LatencyMs, a.LLMTokens, sql.NullString{String: a.ErrorMessage, Valid: a.ErrorMessage != ""},
		a.CreatedAt,
	)
	if c, ok := db.UniqueViolation(err); ok && c == "audit_logs_request_id_key" {
		return ErrDuplicateRequest
	}
	return err
}

// ListByUser returns audit logs for userID, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a              domain.AuditLog
			intent, result []byte
			status         string
			errMsg         sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &a.UserID, &a.DeviceID, &a.InputText, &intent, &result,
			&status, &a.LatencyMs, &a.LLMTokens, &errMsg, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Intent = json.RawMessage(intent)
		a.ActionResult = json.RawMessage(result)
		a.Status = domain.Status(status)
		a.ErrorMessage = errMsg.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
