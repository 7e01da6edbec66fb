// Package handler serves liveness and readiness. Readiness results also drive the gRPC health service.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultCheckTimeout = 2 * time.Second

// Check is one named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthAPI serves /health and /health/ready.
type HealthAPI struct {
	checks  []Check
	timeout time.Duration
	grpc    *health.Server
}

// NewHealthAPI returns a HealthAPI running checks on readiness. grpcHealth may be nil.
func NewHealthAPI(checks []Check, timeout time.Duration, grpcHealth *health.Server) *HealthAPI {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &HealthAPI{checks: checks, timeout: timeout, grpc: grpcHealth}
}

// RegisterRoutes registers the health routes on e.
func (a *HealthAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", a.Live)
	e.GET("/health/ready", a.Ready)
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Live always reports ok.
func (a *HealthAPI) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every check concurrently and answers 503 if any fails.
func (a *HealthAPI) Ready(c echo.Context) error {
	results, ok := a.Run(c.Request().Context())
	resp := readyResponse{Status: "ok", Checks: results}
	code := http.StatusOK
	if !ok {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Run executes the checks and returns per-check results and overall readiness.
func (a *HealthAPI) Run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(a.checks))
		ok      = true
	)
	for _, chk := range a.checks {
		wg.Add(1)
		go func(chk Check) {
			defer wg.Done()
			err := chk.Probe(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[chk.Name] = "error: " + err.Error()
				ok = false
				return
			}
			results[chk.Name] = "ok"
		}(chk)
	}
	wg.Wait()

	if a.grpc != nil {
		st := healthpb.HealthCheckResponse_SERVING
		if !ok {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		a.grpc.SetServingStatus("", st)
	}
	return results, ok
}

// Watch reruns the checks every interval until ctx is done, keeping the gRPC status current.
func (a *HealthAPI) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	a.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Run(ctx)
		}
	}
}
