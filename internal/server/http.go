// Package server assembles the HTTP and gRPC surfaces.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	audithandler "homestack-control-plane/internal/audit/handler"
	healthhandler "homestack-control-plane/internal/health/handler"
	identityhandler "homestack-control-plane/internal/identity/handler"
	instancehandler "homestack-control-plane/internal/instance/handler"
	intenthandler "homestack-control-plane/internal/intent/handler"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/server/middleware"
	"homestack-control-plane/internal/telemetry"
)

const rateLimiterExpiry = 3 * time.Minute

// skipTelemetry are routes that never produce http_request events.
var skipTelemetry = map[string]bool{
	"/health":       true,
	"/health/ready": true,
	"/metrics":      true,
}

// HTTPDeps holds the handlers' collaborators. Emitter and Gatherer may be nil.
type HTTPDeps struct {
	Auth      identityhandler.AuthService
	Verifier  middleware.TokenVerifier
	Intent    intenthandler.Processor
	Instances instancehandler.Orchestrator
	Audit     audithandler.Lister
	Health    *healthhandler.HealthAPI
	Emitter   telemetry.EventEmitter
	Gatherer  prometheus.Gatherer

	// InternalToken guards /instance when non-empty.
	InternalToken string
	// IntentRatePerMinute limits /intent per client IP; zero disables the limiter.
	IntentRatePerMinute int

	Logger zerolog.Logger
}

// NewHTTPServer returns the echo instance serving every route.
func NewHTTPServer(deps HTTPDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(deps.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.RequestLog(deps.Logger))
	e.Use(middleware.Telemetry(deps.Emitter, skipTelemetry))

	identityhandler.NewAuthAPI(deps.Auth).RegisterRoutes(e.Group("/auth"))

	var intentMW []echo.MiddlewareFunc
	if deps.IntentRatePerMinute > 0 {
		intentMW = append(intentMW, IntentRateLimiter(deps.IntentRatePerMinute))
	}
	intenthandler.NewIntentAPI(deps.Intent).RegisterRoutes(e, intentMW...)

	instancehandler.NewInstanceAPI(deps.Instances).RegisterRoutes(e.Group("/instance", middleware.InternalToken(deps.InternalToken)))
	audithandler.NewAuditAPI(deps.Audit).RegisterRoutes(e.Group("/audit", middleware.RequireBearer(deps.Verifier)))

	if deps.Health != nil {
		deps.Health.RegisterRoutes(e)
	}
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return e
}

// IntentRateLimiter allows perMinute requests per client IP, bursting up to perMinute.
func IntentRateLimiter(perMinute int) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(perMinute) / 60),
		Burst:     perMinute,
		ExpiresIn: rateLimiterExpiry,
	})
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return apperr.Wrap(apperr.KindInternal, "rate limiter failure", err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			middleware.RequestID(c)
			return apperr.New(apperr.KindRateLimited, "rate limit exceeded")
		},
	})
}

type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders errors as {detail, error_code, request_id?}. Internal causes are logged, never returned.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		err = classify(err)
		status := apperr.HTTPStatus(err)
		body := errorBody{
			Detail:    apperr.PublicMessage(err),
			ErrorCode: string(apperr.KindOf(err)),
		}
		if id, ok := c.Get(middleware.RequestIDKey).(string); ok {
			body.RequestID = id
		}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Str("request_id", body.RequestID).
				Msg("request failed")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Warn().Err(werr).Msg("write error response")
		}
	}
}

// classify maps echo's own errors (routing, binding) onto application kinds.
func classify(err error) error {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return err
	}
	msg := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && s != "" {
		msg = s
	}
	switch he.Code {
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusMethodNotAllowed:
		return apperr.NotFound(msg)
	case http.StatusUnauthorized:
		return apperr.Authentication(msg)
	case http.StatusForbidden:
		return apperr.Authorization(msg)
	case http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return apperr.Validation(msg)
	case http.StatusServiceUnavailable:
		return apperr.Unavailable(msg, err)
	default:
		return apperr.Internal(err)
	}
}
