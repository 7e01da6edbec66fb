// Package dockercli drives containers by running the docker command-line client.
package dockercli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"homestack-control-plane/internal/runtime"
)

// runFunc executes binary with args and returns stdout, or an error carrying stderr.
type runFunc func(ctx context.Context, binary string, args ...string) (string, error)

// CLI implements runtime.Runtime by shelling out to the docker binary.
type CLI struct {
	binary string
	host   string
	run    runFunc
}

var _ runtime.Runtime = (*CLI)(nil)

// New returns a CLI using binary (default "docker"). host, when set, is passed as --host.
func New(binary, host string) *CLI {
	if binary == "" {
		binary = "docker"
	}
	return &CLI{binary: binary, host: host, run: execRun}
}

func execRun(ctx context.Context, binary string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s %s: %w (stderr: %s)", binary, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CLI) docker(ctx context.Context, args ...string) (string, error) {
	if c.host != "" {
		args = append([]string{"--host", c.host}, args...)
	}
	out, err := c.run(ctx, c.binary, args...)
	if err != nil {
		return "", classify(err)
	}
	return out, nil
}

// classify maps docker's error text to runtime sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such container"), strings.Contains(msg, "no such volume"), strings.Contains(msg, "no such object"):
		return fmt.Errorf("%w: %v", runtime.ErrNotFound, err)
	case strings.Contains(msg, "already in use"), strings.Contains(msg, "volume is in use"):
		return fmt.Errorf("%w: %v", runtime.ErrConflict, err)
	default:
		return err
	}
}

// CreateVolume implements runtime.Runtime.
func (c *CLI) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	args := []string{"volume", "create"}
	for _, l := range runtime.EnvList(labels) {
		args = append(args, "--label", l)
	}
	_, err := c.docker(ctx, append(args, name)...)
	return err
}

func createArgs(spec runtime.Spec) []string {
	args := []string{"create", "--name", spec.Name}
	if spec.ContainerPort > 0 && spec.HostPort > 0 {
		args = append(args, "--publish", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort))
	}
	for _, e := range runtime.EnvList(spec.Env) {
		args = append(args, "--env", e)
	}
	if spec.Volume != "" && spec.MountPath != "" {
		args = append(args, "--volume", spec.Volume+":"+spec.MountPath+":rw")
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	if spec.RestartPolicy != "" {
		args = append(args, "--restart", spec.RestartPolicy)
	}
	if hc := spec.Healthcheck; hc != nil && len(hc.Test) > 0 {
		cmd := hc.Test
		if cmd[0] == "CMD" || cmd[0] == "CMD-SHELL" {
			cmd = cmd[1:]
		}
		args = append(args,
			"--health-cmd", strings.Join(cmd, " "),
			"--health-interval", hc.Interval.String(),
			"--health-timeout", hc.Timeout.String(),
			"--health-retries", strconv.Itoa(hc.Retries),
			"--health-start-period", hc.StartPeriod.String(),
		)
	}
	if spec.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryBytes, 10))
	}
	if spec.NanoCPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(float64(spec.NanoCPUs)/1e9, 'f', -1, 64))
	}
	for _, l := range runtime.EnvList(spec.Labels) {
		args = append(args, "--label", l)
	}
	return append(args, spec.Image)
}

// Create implements runtime.Runtime.
func (c *CLI) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	return c.docker(ctx, createArgs(spec)...)
}

// Start implements runtime.Runtime.
func (c *CLI) Start(ctx context.Context, id string) error {
	_, err := c.docker(ctx, "start", id)
	return err
}

// Stop implements runtime.Runtime.
func (c *CLI) Stop(ctx context.Context, id string, grace time.Duration) error {
	_, err := c.docker(ctx, "stop", "--time", strconv.Itoa(int(grace.Seconds())), id)
	return err
}

// Remove implements runtime.Runtime.
func (c *CLI) Remove(ctx context.Context, id string) error {
	_, err := c.docker(ctx, "rm", "--force", id)
	return err
}

// RemoveVolume implements runtime.Runtime.
func (c *CLI) RemoveVolume(ctx context.Context, name string) error {
	_, err := c.docker(ctx, "volume", "rm", name)
	return err
}

type inspectState struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status    string `json:"Status"`
		StartedAt string `json:"StartedAt"`
		Health    *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
}

// Inspect implements runtime.Runtime.
func (c *CLI) Inspect(ctx context.Context, id string) (*runtime.State, error) {
	out, err := c.docker(ctx, "container", "inspect", id)
	if err != nil {
		return nil, err
	}
	var states []inspectState
	if err := json.Unmarshal([]byte(out), &states); err != nil {
		return nil, fmt.Errorf("dockercli: parse inspect: %w", err)
	}
	if len(states) == 0 {
		return nil, runtime.ErrNotFound
	}
	s := states[0]
	st := &runtime.State{
		ID:     s.ID,
		Name:   strings.TrimPrefix(s.Name, "/"),
		Status: s.State.Status,
		Health: runtime.HealthNone,
	}
	if s.State.Health != nil && s.State.Health.Status != "" {
		st.Health = s.State.Health.Status
	}
	if t, err := time.Parse(time.RFC3339Nano, s.State.StartedAt); err == nil && t.Year() > 1 {
		st.StartedAt = t
	}
	return st, nil
}

// Ping implements runtime.Runtime.
func (c *CLI) Ping(ctx context.Context) error {
	_, err := c.docker(ctx, "version", "--format", "{{.Server.Version}}")
	return err
}
