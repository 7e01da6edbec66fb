package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an instance row.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
	StatusDeleted  Status = "deleted"
	// StatusUnknown is only ever observed, never stored.
	StatusUnknown Status = "unknown"
)

// Instance is a user's isolated automation runtime.
type Instance struct {
	ID          string
	UserID      string
	RuntimeID   string
	RuntimeName string
	Status      Status
	HostPort    int
	Network     string
	Timezone    string
	StartedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RuntimeName returns the container name for userID. The whole id is used so distinct users never
// share a name.
func RuntimeName(userID string) string {
	return "ha-user-" + userID
}

// VolumeName returns the name of the dedicated config volume of userID.
func VolumeName(userID string) string {
	return "ha-" + userID
}

// Persisted reports whether s may be stored in the status column.
func (s Status) Persisted() bool {
	switch s {
	case StatusCreating, StatusRunning, StatusStopped, StatusError, StatusDeleted:
		return true
	}
	return false
}

// Validate checks the fields required before the row is inserted.
func (i *Instance) Validate() error {
	if i.ID == "" || i.UserID == "" || i.RuntimeName == "" {
		return fmt.Errorf("instance: id, user id and runtime name are required")
	}
	if !i.Status.Persisted() {
		return fmt.Errorf("instance: invalid status %q", i.Status)
	}
	if i.HostPort <= 0 || i.HostPort > 65535 {
		return fmt.Errorf("instance: invalid host port %d", i.HostPort)
	}
	return nil
}

// Uptime is the time since StartedAt while running, else zero.
func (i *Instance) Uptime(now time.Time) time.Duration {
	if i.Status != StatusRunning || i.StartedAt == nil {
		return 0
	}
	if d := now.Sub(*i.StartedAt); d > 0 {
		return d
	}
	return 0
}
