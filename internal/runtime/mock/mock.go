// Package mock is an in-memory runtime.Runtime for development and tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"homestack-control-plane/internal/runtime"
)

type container struct {
	spec      runtime.Spec
	state     runtime.State
	createdAt time.Time
}

// Runtime keeps containers and volumes in memory. The exported error fields inject failures
// into the next matching call; they stay set until cleared.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*container
	byName     map[string]string
	volumes    map[string]map[string]string

	CreateErr error
	StartErr  error
	StopErr   error
	PingErr   error
	// CreateDelay blocks Create until it elapses or ctx is done.
	CreateDelay time.Duration

	now func() time.Time
}

var _ runtime.Runtime = (*Runtime)(nil)

// New returns an empty Runtime.
func New() *Runtime {
	return &Runtime{
		containers: map[string]*container{},
		byName:     map[string]string{},
		volumes:    map[string]map[string]string{},
		now:        time.Now,
	}
}

// CreateVolume implements runtime.Runtime. Creating an existing volume succeeds.
func (r *Runtime) CreateVolume(_ context.Context, name string, labels map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.volumes[name]; !ok {
		r.volumes[name] = labels
	}
	return nil
}

// Create implements runtime.Runtime.
func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	if r.CreateDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.CreateDelay):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return "", r.CreateErr
	}
	if _, ok := r.byName[spec.Name]; ok {
		return "", fmt.Errorf("%w: container name %q in use", runtime.ErrConflict, spec.Name)
	}
	id := uuid.NewString()
	r.containers[id] = &container{
		spec:      spec,
		state:     runtime.State{ID: id, Name: spec.Name, Status: runtime.StateCreated, Health: runtime.HealthNone},
		createdAt: r.now(),
	}
	r.byName[spec.Name] = id
	return id, nil
}

// lookup resolves a container by id or name.
func (r *Runtime) lookup(ref string) (*container, error) {
	if c, ok := r.containers[ref]; ok {
		return c, nil
	}
	if id, ok := r.byName[ref]; ok {
		return r.containers[id], nil
	}
	return nil, fmt.Errorf("%w: container %s", runtime.ErrNotFound, ref)
}

// Start implements runtime.Runtime.
func (r *Runtime) Start(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	if c.state.Status != runtime.StateRunning {
		c.state.Status = runtime.StateRunning
		c.state.StartedAt = r.now().UTC()
		if c.spec.Healthcheck != nil {
			c.state.Health = "starting"
		}
	}
	return nil
}

// Stop implements runtime.Runtime.
func (r *Runtime) Stop(_ context.Context, id string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StopErr != nil {
		return r.StopErr
	}
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	if c.state.Status == runtime.StateRunning {
		c.state.Status = runtime.StateExited
		if c.spec.Healthcheck != nil {
			c.state.Health = "unhealthy"
		}
	}
	return nil
}

// Remove implements runtime.Runtime.
func (r *Runtime) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return err
	}
	delete(r.byName, c.spec.Name)
	delete(r.containers, c.state.ID)
	return nil
}

// RemoveVolume implements runtime.Runtime.
func (r *Runtime) RemoveVolume(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.volumes[name]; !ok {
		return fmt.Errorf("%w: volume %s", runtime.ErrNotFound, name)
	}
	for _, c := range r.containers {
		if c.spec.Volume == name {
			return fmt.Errorf("%w: volume %s is in use", runtime.ErrConflict, name)
		}
	}
	delete(r.volumes, name)
	return nil
}

// Inspect implements runtime.Runtime.
func (r *Runtime) Inspect(_ context.Context, id string) (*runtime.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	st := c.state
	return &st, nil
}

// Ping implements runtime.Runtime.
func (r *Runtime) Ping(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PingErr
}

// SetStatus overrides a container's observed status, e.g. to simulate a crash.
func (r *Runtime) SetStatus(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, err := r.lookup(id); err == nil {
		c.state.Status = status
	}
}

// Spec returns the spec a container was created with.
func (r *Runtime) Spec(id string) (runtime.Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return runtime.Spec{}, false
	}
	return c.spec, true
}

// Counts returns the number of containers and volumes held.
func (r *Runtime) Counts() (containers, volumes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers), len(r.volumes)
}
