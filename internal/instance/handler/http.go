package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/instance/domain"
	"homestack-control-plane/internal/instance/service"
	"homestack-control-plane/internal/platform/apperr"
)

// Orchestrator is the part of *service.Orchestrator used by the HTTP handlers.
type Orchestrator interface {
	Provision(ctx context.Context, userID string) (*domain.Instance, error)
	Get(ctx context.Context, userID string) (*domain.Instance, error)
	Start(ctx context.Context, userID string) (*domain.Instance, error)
	Stop(ctx context.Context, userID string) (*domain.Instance, error)
	Delete(ctx context.Context, userID string) error
	GetStatus(ctx context.Context, userID string) (*service.StatusReport, error)
}

// InstanceAPI serves the /instance routes.
type InstanceAPI struct {
	orch Orchestrator
}

// NewInstanceAPI returns an InstanceAPI backed by orch.
func NewInstanceAPI(orch Orchestrator) *InstanceAPI {
	return &InstanceAPI{orch: orch}
}

// RegisterRoutes registers the instance routes on g.
func (a *InstanceAPI) RegisterRoutes(g *echo.Group) {
	g.POST("", a.Provision)
	g.GET("/:user_id", a.Get)
	g.DELETE("/:user_id", a.Delete)
	g.GET("/:user_id/status", a.Status)
	g.POST("/:user_id/start", a.Start)
	g.POST("/:user_id/stop", a.Stop)
}

type provisionRequest struct {
	UserID string `json:"user_id"`
}

type provisionResponse struct {
	RuntimeID   string `json:"runtime_id"`
	RuntimeName string `json:"runtime_name"`
	Status      string `json:"status"`
	HostPort    int    `json:"host_port"`
}

type instanceResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RuntimeID   string     `json:"runtime_id"`
	RuntimeName string     `json:"runtime_name"`
	Status      string     `json:"status"`
	HostPort    int        `json:"host_port"`
	Network     string     `json:"network"`
	Timezone    string     `json:"timezone"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type statusResponse struct {
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	Health        string `json:"health"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Provision creates and starts the instance of the given user.
func (a *InstanceAPI) Provision(c echo.Context) error {
	var req provisionRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return apperr.Validation("user_id is required")
	}
	in, err := a.orch.Provision(c.Request().Context(), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, provisionResponse{
		RuntimeID:   in.RuntimeID,
		RuntimeName: in.RuntimeName,
		Status:      string(in.Status),
		HostPort:    in.HostPort,
	})
}

// Get returns the stored instance snapshot.
func (a *InstanceAPI) Get(c echo.Context) error {
	in, err := a.orch.Get(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInstanceResponse(in))
}

// Delete tears the instance down. Deleting an absent instance succeeds.
func (a *InstanceAPI) Delete(c echo.Context) error {
	if err := a.orch.Delete(c.Request().Context(), c.Param("user_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Status reports the observed runtime status.
func (a *InstanceAPI) Status(c echo.Context) error {
	r, err := a.orch.GetStatus(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{
		UserID:        r.UserID,
		Status:        string(r.Status),
		Health:        r.Health,
		UptimeSeconds: r.UptimeSeconds,
	})
}

// Start starts a stopped instance.
func (a *InstanceAPI) Start(c echo.Context) error {
	in, err := a.orch.Start(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInstanceResponse(in))
}

// Stop stops a running instance.
func (a *InstanceAPI) Stop(c echo.Context) error {
	in, err := a.orch.Stop(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInstanceResponse(in))
}

func toInstanceResponse(in *domain.Instance) instanceResponse {
	return instanceResponse{
		ID:          in.ID,
		UserID:      in.UserID,
		RuntimeID:   in.RuntimeID,
		RuntimeName: in.RuntimeName,
		Status:      string(in.Status),
		HostPort:    in.HostPort,
		Network:     in.Network,
		Timezone:    in.Timezone,
		StartedAt:   in.StartedAt,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
}
