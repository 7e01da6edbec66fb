// Package runtime defines the container runtime contract used by the instance orchestrator.
// Drivers live in subpackages: dockerapi (Engine API over a socket), dockercli (docker binary), mock (in memory).
package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a container or volume does not exist.
	ErrNotFound = errors.New("runtime: not found")
	// ErrConflict is returned when a name is already in use or a volume is still attached.
	ErrConflict = errors.New("runtime: conflict")
)

// Container states as reported by the runtime.
const (
	StateCreated    = "created"
	StateRunning    = "running"
	StatePaused     = "paused"
	StateRestarting = "restarting"
	StateRemoving   = "removing"
	StateExited     = "exited"
	StateDead       = "dead"
)

// HealthNone is reported when a container has no healthcheck result.
const HealthNone = "none"

// Healthcheck configures the container healthcheck.
type Healthcheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// Spec describes a container to create.
type Spec struct {
	Name          string
	Image         string
	ContainerPort int
	HostPort      int
	Env           map[string]string
	Volume        string
	MountPath     string
	Network       string
	RestartPolicy string
	Healthcheck   *Healthcheck
	MemoryBytes   int64
	NanoCPUs      int64
	Labels        map[string]string
}

// State is the observed state of a container.
type State struct {
	ID        string
	Name      string
	Status    string
	Health    string
	StartedAt time.Time
}

// Runtime creates and controls containers and their volumes. Implementations map a missing
// container or volume to ErrNotFound and honor ctx deadlines.
type Runtime interface {
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	// Stop asks the container to exit and kills it once grace has elapsed. Stopping a stopped container succeeds.
	Stop(ctx context.Context, id string, grace time.Duration) error
	// Remove force-removes the container.
	Remove(ctx context.Context, id string) error
	RemoveVolume(ctx context.Context, name string) error
	Inspect(ctx context.Context, id string) (*State, error)
	Ping(ctx context.Context) error
}

// ParseMemory converts a Docker-style size ("512m", "1g", "256k", "1048576") to bytes.
func ParseMemory(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
	case 'm':
		mult = 1 << 20
	case 'g':
		mult = 1 << 30
	case 'b':
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("runtime: invalid memory size %q", s)
		}
		return n, nil
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("runtime: invalid memory size %q", s)
	}
	return int64(n * float64(mult)), nil
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}
