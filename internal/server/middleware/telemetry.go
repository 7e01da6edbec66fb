package middleware

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/audit"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/telemetry"
	"homestack-control-plane/internal/telemetry/domain"
)

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	Action     string `json:"action"`
	Resource   string `json:"resource"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// Telemetry emits an http_request event after each request.
// Best-effort: emits are asynchronous and never fail the request. If emitter is nil, the middleware no-ops.
// skipRoutes is the set of route patterns to not emit (e.g. /health, /metrics).
func Telemetry(emitter telemetry.EventEmitter, skipRoutes map[string]bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if emitter == nil {
			return next
		}
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			route := c.Path()
			if skipRoutes[route] {
				return err
			}
			req := c.Request()
			ar := audit.ParseRoute(req.Method, route)
			meta, _ := json.Marshal(httpRequestMetadata{
				Method:     req.Method,
				Route:      route,
				Action:     ar.Action,
				Resource:   ar.Resource,
				StatusCode: responseStatus(c, err),
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   c.RealIP(),
			})
			userID, _ := GetUserID(req.Context())
			requestID, _ := c.Get(RequestIDKey).(string)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}
			telemetry.EmitAsync(req.Context(), emitter, &domain.Event{
				ID:        uuid.New().String(),
				UserID:    userID,
				RequestID: requestID,
				EventType: domain.EventTypeHTTPRequest,
				Source:    "http_middleware",
				Metadata:  meta,
				CreatedAt: time.Now().UTC(),
			})
			return err
		}
	}
}

// responseStatus is the status that will be written for err, since the error handler runs after middleware.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.HTTPStatus(err)
}
