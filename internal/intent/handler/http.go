package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/intent/service"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/server/middleware"
)

// Processor is the part of *service.Pipeline used by the handler.
type Processor interface {
	Process(ctx context.Context, req service.Request) (*service.Response, error)
}

// IntentAPI serves POST /intent.
type IntentAPI struct {
	pipeline Processor
}

// NewIntentAPI returns an IntentAPI backed by pipeline.
func NewIntentAPI(pipeline Processor) *IntentAPI {
	return &IntentAPI{pipeline: pipeline}
}

// RegisterRoutes registers the intent route on e. Middleware such as the rate limiter is passed through.
func (a *IntentAPI) RegisterRoutes(e *echo.Echo, m ...echo.MiddlewareFunc) {
	e.POST("/intent", a.Process, m...)
}

type intentRequest struct {
	UserID    string `json:"user_id"`
	DeviceID  string `json:"device_id"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type intentResponse struct {
	RequestID     string  `json:"request_id"`
	Intent        string  `json:"intent"`
	EntityID      string  `json:"entity_id,omitempty"`
	Response      string  `json:"response"`
	Status        string  `json:"status"`
	Confidence    float64 `json:"confidence"`
	LatencyMs     int64   `json:"latency_ms"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// Process authenticates the bearer token and runs the text through the intent pipeline.
// The request id is the one in the X-Request-Id header, stored on the context so error bodies carry it.
func (a *IntentAPI) Process(c echo.Context) error {
	requestID := middleware.RequestID(c)

	token := middleware.ExtractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
	if token == "" {
		return apperr.Authentication("missing or invalid authorization")
	}
	var req intentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	resp, err := a.pipeline.Process(c.Request().Context(), service.Request{
		RequestID:   requestID,
		AccessToken: token,
		UserID:      req.UserID,
		DeviceID:    req.DeviceID,
		Text:        req.Text,
		SessionID:   req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, intentResponse{
		RequestID:     resp.RequestID,
		Intent:        resp.Intent,
		EntityID:      resp.EntityID,
		Response:      resp.Response,
		Status:        string(resp.Status),
		Confidence:    resp.Confidence,
		LatencyMs:     resp.LatencyMs,
		LowConfidence: resp.LowConfidence,
	})
}
