package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/audit/domain"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/server/middleware"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Lister returns a user's audit rows newest first. Implemented by *audit.Recorder.
type Lister interface {
	List(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error)
}

// AuditAPI serves GET /audit/logs. The route must sit behind middleware.RequireBearer.
type AuditAPI struct {
	logs Lister
}

// NewAuditAPI returns an AuditAPI backed by logs.
func NewAuditAPI(logs Lister) *AuditAPI {
	return &AuditAPI{logs: logs}
}

// RegisterRoutes registers the audit routes on g.
func (a *AuditAPI) RegisterRoutes(g *echo.Group) {
	g.GET("/logs", a.ListLogs)
}

type auditLogResponse struct {
	ID           string          `json:"id"`
	RequestID    string          `json:"request_id"`
	DeviceID     string          `json:"device_id"`
	InputText    string          `json:"input_text"`
	Intent       json.RawMessage `json:"intent,omitempty"`
	ActionResult json.RawMessage `json:"action_result,omitempty"`
	Status       string          `json:"status"`
	LatencyMs    int64           `json:"latency_ms"`
	LLMTokens    int             `json:"llm_tokens"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type listResponse struct {
	Logs   []auditLogResponse `json:"logs"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListLogs returns the caller's audit rows. limit defaults to 50 and is capped at 200.
func (a *AuditAPI) ListLogs(c echo.Context) error {
	userID, ok := middleware.GetUserID(c.Request().Context())
	if !ok || userID == "" {
		return apperr.Authentication("missing or invalid authorization")
	}
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil || limit < 1 {
		return apperr.Validation("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil || offset < 0 {
		return apperr.Validation("offset must be a non-negative integer")
	}
	rows, err := a.logs.List(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return apperr.Internal(err)
	}
	out := listResponse{Logs: make([]auditLogResponse, 0, len(rows)), Limit: limit, Offset: offset}
	for _, r := range rows {
		out.Logs = append(out.Logs, auditLogResponse{
			ID:           r.ID,
			RequestID:    r.RequestID,
			DeviceID:     r.DeviceID,
			InputText:    r.InputText,
			Intent:       r.Intent,
			ActionResult: r.ActionResult,
			Status:       string(r.Status),
			LatencyMs:    r.LatencyMs,
			LLMTokens:    r.LLMTokens,
			ErrorMessage: r.ErrorMessage,
			CreatedAt:    r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
