package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/identity/service"
	"homestack-control-plane/internal/platform/apperr"
)

const bearerPrefix = "bearer "

// InternalTokenHeader carries the shared secret for operator-only routes.
const InternalTokenHeader = "X-Internal-Token"

// TokenVerifier verifies access tokens. Implemented by *service.AuthService.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (*service.Principal, error)
}

// RequireBearer validates the Bearer access token and stores the principal in the request context.
func RequireBearer(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := ExtractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return apperr.Authentication("missing or invalid authorization")
			}
			p, err := verifier.VerifyAccessToken(c.Request().Context(), token)
			if err != nil {
				return err
			}
			ctx := WithIdentity(c.Request().Context(), p.UserID, p.Email, p.Role)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// InternalToken requires the X-Internal-Token header to equal expected. An empty expected disables the check.
func InternalToken(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if expected == "" {
			return next
		}
		return func(c echo.Context) error {
			got := c.Request().Header.Get(InternalTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				return apperr.Authentication("missing or invalid internal token")
			}
			return next(c)
		}
	}
}

// ExtractBearer returns the Bearer token from an Authorization header value, or "" if missing or malformed.
func ExtractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
