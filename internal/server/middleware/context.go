package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey struct{ name string }

var (
	userIDKey = contextKey{"user_id"}
	emailKey  = contextKey{"email"}
	roleKey   = contextKey{"role"}
)

// RequestIDKey is the echo context key under which the intent path stores its request id,
// so error responses can echo it back.
const RequestIDKey = "intent_request_id"

// RequestID returns the request id for c and stores it under RequestIDKey. It prefers an id already
// stored, then the X-Request-Id response header set by echo's RequestID middleware, and only mints
// a new one when neither exists.
func RequestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok && id != "" {
		return id
	}
	id := c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = uuid.New().String()
		c.Response().Header().Set(echo.HeaderXRequestID, id)
	}
	c.Set(RequestIDKey, id)
	return id
}

// WithIdentity returns a context with user_id, email and role set.
func WithIdentity(ctx context.Context, userID, email, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, emailKey, email)
	ctx = context.WithValue(ctx, roleKey, role)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetEmail returns the email from context and true if set; otherwise "", false.
func GetEmail(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(emailKey).(string)
	return v, ok
}

// GetRole returns the role from context and true if set; otherwise "", false.
func GetRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	return v, ok
}
