package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"homestack-control-plane/internal/config"
	"homestack-control-plane/internal/instance/domain"
	"homestack-control-plane/internal/instance/repository"
	"homestack-control-plane/internal/metrics"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/runtime"
)

const (
	containerPort = 8123
	mountPath     = "/config"
	restartPolicy = "unless-stopped"
	// stopSlack is added to the stop grace period to bound the whole stop call.
	stopSlack = 5 * time.Second
)

// Settings are the orchestrator's runtime and port-pool parameters.
type Settings struct {
	Image         string
	Network       string
	Timezone      string
	PortStart     int
	PortEnd       int
	MemoryBytes   int64
	NanoCPUs      int64
	CreateTimeout time.Duration
	StartTimeout  time.Duration
	StopGrace     time.Duration
}

// SettingsFromConfig derives Settings from cfg.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	mem, err := runtime.ParseMemory(cfg.HAMemoryLimit)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Image:         cfg.HAImage,
		Network:       cfg.HANetwork,
		Timezone:      cfg.HATimezone,
		PortStart:     cfg.PortRangeStart,
		PortEnd:       cfg.PortRangeEnd,
		MemoryBytes:   mem,
		NanoCPUs:      int64(cfg.HACPULimit * 1e9),
		CreateTimeout: cfg.CreateTimeout(),
		StartTimeout:  cfg.StartTimeout(),
		StopGrace:     cfg.StopGrace(),
	}, nil
}

// StatusReport is the observed state of a user's instance.
type StatusReport struct {
	UserID        string
	Status        domain.Status
	Health        string
	UptimeSeconds int64
}

// Orchestrator provisions, controls and tears down per-user runtime instances. It holds no locks:
// port allocation is serialized only by the repository's unique constraints.
type Orchestrator struct {
	repo     repository.Repository
	rt       runtime.Runtime
	settings Settings
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator returns an Orchestrator. m may be nil.
func NewOrchestrator(repo repository.Repository, rt runtime.Runtime, settings Settings, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		rt:       rt,
		settings: settings,
		metrics:  m,
		log:      logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

// Provision reserves a host port for userID, creates the volume and container, starts it and marks
// the row running. Runtime calls are detached from ctx so a client disconnect does not abort them.
// On any failure after the reservation, partial runtime resources and the row are removed.
func (o *Orchestrator) Provision(ctx context.Context, userID string) (*domain.Instance, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	existing, err := o.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if existing != nil {
		o.metrics.Provision("conflict")
		return nil, apperr.Conflict("instance already exists for user")
	}

	in, err := o.reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	log := o.log.With().Str("user_id", userID).Int("host_port", in.HostPort).Logger()
	log.Info().Msg("host port reserved")

	rctx := context.WithoutCancel(ctx)
	if err := o.createAndStart(rctx, in); err != nil {
		log.Error().Err(err).Msg("provision failed, rolling back")
		o.rollback(rctx, in)
		o.metrics.Provision("failure")
		return nil, err
	}
	o.metrics.Provision("success")
	log.Info().Str("runtime_id", in.RuntimeID).Msg("instance running")
	return in, nil
}

// reserve inserts a creating row on the lowest free port, moving to the next candidate whenever a
// concurrent provision takes the port first.
func (o *Orchestrator) reserve(ctx context.Context, userID string) (*domain.Instance, error) {
	used, err := o.repo.UsedPorts(ctx, o.settings.PortStart, o.settings.PortEnd)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := o.now().UTC()
	in := &domain.Instance{
		ID:          uuid.NewString(),
		UserID:      userID,
		RuntimeName: domain.RuntimeName(userID),
		Status:      domain.StatusCreating,
		Network:     o.settings.Network,
		Timezone:    o.settings.Timezone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for port := o.settings.PortStart; port < o.settings.PortEnd; port++ {
		if used[port] {
			continue
		}
		in.HostPort = port
		err := o.repo.Create(ctx, in)
		switch {
		case err == nil:
			return in, nil
		case errors.Is(err, repository.ErrPortTaken):
			o.metrics.PortRetry()
		case errors.Is(err, repository.ErrUserTaken):
			o.metrics.Provision("conflict")
			return nil, apperr.Conflict("instance already exists for user")
		case errors.Is(err, repository.ErrNameTaken):
			o.metrics.Provision("conflict")
			return nil, apperr.Conflict("runtime name already in use")
		default:
			return nil, apperr.Internal(err)
		}
	}
	o.metrics.Provision("exhausted")
	return nil, apperr.ResourceExhausted("no free host ports")
}

func (o *Orchestrator) spec(in *domain.Instance) runtime.Spec {
	return runtime.Spec{
		Name:          in.RuntimeName,
		Image:         o.settings.Image,
		ContainerPort: containerPort,
		HostPort:      in.HostPort,
		Env:           map[string]string{"TZ": in.Timezone},
		Volume:        domain.VolumeName(in.UserID),
		MountPath:     mountPath,
		Network:       in.Network,
		RestartPolicy: restartPolicy,
		Healthcheck: &runtime.Healthcheck{
			Test:        []string{"CMD", "curl", "-f", fmt.Sprintf("http://localhost:%d/", containerPort)},
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     3,
			StartPeriod: 60 * time.Second,
		},
		MemoryBytes: o.settings.MemoryBytes,
		NanoCPUs:    o.settings.NanoCPUs,
		Labels:      labels(in.UserID),
	}
}

func labels(userID string) map[string]string {
	return map[string]string{
		"homestack.user_id": userID,
		"homestack.managed": "true",
	}
}

func (o *Orchestrator) createAndStart(ctx context.Context, in *domain.Instance) error {
	cctx, cancel := context.WithTimeout(ctx, o.settings.CreateTimeout)
	defer cancel()
	if err := o.rt.CreateVolume(cctx, domain.VolumeName(in.UserID), labels(in.UserID)); err != nil {
		return runtimeError("create volume", err)
	}
	id, err := o.rt.Create(cctx, o.spec(in))
	if err != nil {
		return runtimeError("create", err)
	}
	in.RuntimeID = id

	sctx, cancel := context.WithTimeout(ctx, o.settings.StartTimeout)
	defer cancel()
	if err := o.rt.Start(sctx, id); err != nil {
		return runtimeError("start", err)
	}

	now := o.now().UTC()
	in.Status = domain.StatusRunning
	in.StartedAt = &now
	in.UpdatedAt = now
	if err := o.repo.Update(ctx, in); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// rollback removes whatever createAndStart left behind. Failures are logged; the row is
// deleted last so its port stays reserved until the runtime is cleaned up.
func (o *Orchestrator) rollback(ctx context.Context, in *domain.Instance) {
	ctx, cancel := context.WithTimeout(ctx, o.settings.StopGrace+stopSlack)
	defer cancel()
	log := o.log.With().Str("user_id", in.UserID).Logger()
	if err := o.rt.Remove(ctx, runtimeRef(in)); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		log.Warn().Err(err).Msg("rollback: remove container")
	}
	if err := o.rt.RemoveVolume(ctx, domain.VolumeName(in.UserID)); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		log.Warn().Err(err).Msg("rollback: remove volume")
	}
	if err := o.repo.Delete(ctx, in.ID); err != nil {
		log.Error().Err(err).Str("instance_id", in.ID).Msg("rollback: delete row")
	}
}

// runtimeRef is the container id, or the name while the id is not yet known.
func runtimeRef(in *domain.Instance) string {
	if in.RuntimeID != "" {
		return in.RuntimeID
	}
	return in.RuntimeName
}

func runtimeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable("runtime timeout during "+op, err)
	}
	return apperr.Unavailable("runtime failure during "+op, err)
}

func (o *Orchestrator) mustGet(ctx context.Context, userID string) (*domain.Instance, error) {
	in, err := o.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if in == nil {
		return nil, apperr.NotFound("instance not found")
	}
	return in, nil
}

// Get returns the stored instance of userID.
func (o *Orchestrator) Get(ctx context.Context, userID string) (*domain.Instance, error) {
	return o.mustGet(ctx, userID)
}

// Start starts the instance of userID. Starting a running instance succeeds.
func (o *Orchestrator) Start(ctx context.Context, userID string) (*domain.Instance, error) {
	in, err := o.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Status == domain.StatusCreating {
		return nil, apperr.Conflict("instance is still being provisioned")
	}
	sctx, cancel := context.WithTimeout(ctx, o.settings.StartTimeout)
	defer cancel()
	if err := o.rt.Start(sctx, runtimeRef(in)); err != nil {
		o.markMissing(ctx, in, err)
		return nil, runtimeError("start", err)
	}
	if in.Status != domain.StatusRunning {
		now := o.now().UTC()
		in.Status = domain.StatusRunning
		in.StartedAt = &now
		in.UpdatedAt = now
		if err := o.repo.Update(ctx, in); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	return in, nil
}

// Stop stops the instance of userID, forcing it down after the grace period. Stopping a stopped instance succeeds.
func (o *Orchestrator) Stop(ctx context.Context, userID string) (*domain.Instance, error) {
	in, err := o.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Status == domain.StatusCreating {
		return nil, apperr.Conflict("instance is still being provisioned")
	}
	sctx, cancel := context.WithTimeout(ctx, o.settings.StopGrace+stopSlack)
	defer cancel()
	if err := o.rt.Stop(sctx, runtimeRef(in), o.settings.StopGrace); err != nil {
		o.markMissing(ctx, in, err)
		return nil, runtimeError("stop", err)
	}
	if in.Status != domain.StatusStopped {
		in.Status = domain.StatusStopped
		in.UpdatedAt = o.now().UTC()
		if err := o.repo.Update(ctx, in); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	return in, nil
}

// markMissing records status error when the runtime no longer knows the container.
func (o *Orchestrator) markMissing(ctx context.Context, in *domain.Instance, err error) {
	if !errors.Is(err, runtime.ErrNotFound) || in.Status == domain.StatusError {
		return
	}
	in.Status = domain.StatusError
	in.UpdatedAt = o.now().UTC()
	if uerr := o.repo.Update(ctx, in); uerr != nil {
		o.log.Warn().Err(uerr).Str("user_id", in.UserID).Msg("record missing runtime")
	}
}

// Delete stops and removes the container and volume of userID, then deletes the row.
// Missing runtime resources are ignored; deleting an absent instance is a no-op.
// An instance still being provisioned answers Conflict.
func (o *Orchestrator) Delete(ctx context.Context, userID string) error {
	in, err := o.repo.GetByUserID(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if in == nil {
		return nil
	}
	if in.Status == domain.StatusCreating {
		return apperr.Conflict("instance is still being provisioned")
	}
	rctx := context.WithoutCancel(ctx)
	log := o.log.With().Str("user_id", userID).Logger()

	sctx, cancel := context.WithTimeout(rctx, o.settings.StopGrace+stopSlack)
	defer cancel()
	if err := o.rt.Stop(sctx, runtimeRef(in), o.settings.StopGrace); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		// Remove is forced, so a failed graceful stop is not fatal.
		log.Warn().Err(err).Msg("delete: stop failed, forcing removal")
	}
	rmctx, cancel := context.WithTimeout(rctx, o.settings.CreateTimeout)
	defer cancel()
	if err := o.rt.Remove(rmctx, runtimeRef(in)); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return runtimeError("remove", err)
	}
	if err := o.rt.RemoveVolume(rmctx, domain.VolumeName(userID)); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return runtimeError("remove volume", err)
	}
	if err := o.repo.Delete(rctx, in.ID); err != nil {
		return apperr.Internal(err)
	}
	log.Info().Msg("instance deleted")
	return nil
}

// NormalizeState maps a runtime container state onto an instance status.
func NormalizeState(state string) domain.Status {
	switch state {
	case runtime.StateRunning:
		return domain.StatusRunning
	case runtime.StateCreated, runtime.StateExited, runtime.StatePaused:
		return domain.StatusStopped
	case runtime.StateDead, runtime.StateRemoving:
		return domain.StatusError
	default:
		return domain.StatusUnknown
	}
}

// GetStatus inspects the runtime and reports the normalized status, health and uptime.
// An observed running, stopped or error status that differs from the row is written back.
func (o *Orchestrator) GetStatus(ctx context.Context, userID string) (*StatusReport, error) {
	in, err := o.mustGet(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{UserID: userID, Status: in.Status, Health: runtime.HealthNone}
	if in.Status == domain.StatusCreating {
		return report, nil
	}

	ictx, cancel := context.WithTimeout(ctx, o.settings.StartTimeout)
	defer cancel()
	var startedAt time.Time
	st, err := o.rt.Inspect(ictx, runtimeRef(in))
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		report.Status = domain.StatusError
	case err != nil:
		return nil, runtimeError("inspect", err)
	default:
		report.Status = NormalizeState(st.Status)
		report.Health = st.Health
		startedAt = st.StartedAt
	}

	now := o.now().UTC()
	if report.Status == domain.StatusRunning {
		if startedAt.IsZero() && in.StartedAt != nil {
			startedAt = *in.StartedAt
		}
		if !startedAt.IsZero() && now.After(startedAt) {
			report.UptimeSeconds = int64(now.Sub(startedAt).Seconds())
		}
	}

	if report.Status != in.Status && report.Status.Persisted() {
		in.Status = report.Status
		if report.Status == domain.StatusRunning && !startedAt.IsZero() {
			s := startedAt.UTC()
			in.StartedAt = &s
		}
		in.UpdatedAt = now
		if err := o.repo.Update(ctx, in); err != nil {
			o.log.Warn().Err(err).Str("user_id", userID).Msg("status write-back failed")
		}
	}
	return report, nil
}

// Ping checks that the runtime is reachable.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.rt.Ping(ctx)
}
