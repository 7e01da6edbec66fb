// Package dockerapi drives containers through the Docker Engine API on a unix socket or TCP endpoint.
package dockerapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"

	"homestack-control-plane/internal/runtime"
)

const apiVersion = "1.43"

// Client implements runtime.Runtime against the Docker Engine API.
type Client struct {
	api *client.Client
}

var _ runtime.Runtime = (*Client)(nil)

// New returns a Client for host, e.g. unix:///var/run/docker.sock or tcp://127.0.0.1:2375.
func New(host string) (*Client, error) {
	host, err := normalizeHost(host)
	if err != nil {
		return nil, err
	}
	api, err := client.NewClientWithOpts(client.WithHost(host), client.WithVersion(apiVersion))
	if err != nil {
		return nil, fmt.Errorf("dockerapi: %w", err)
	}
	return &Client{api: api}, nil
}

func normalizeHost(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("dockerapi: invalid host %q: %w", host, err)
	}
	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", fmt.Errorf("dockerapi: missing socket path in %q", host)
		}
		return host, nil
	case "tcp", "http":
		if u.Host == "" {
			return "", fmt.Errorf("dockerapi: missing host in %q", host)
		}
		return "tcp://" + u.Host, nil
	default:
		return "", fmt.Errorf("dockerapi: unsupported scheme %q", u.Scheme)
	}
}

// Close releases the underlying HTTP transport.
func (c *Client) Close() error {
	return c.api.Close()
}

// mapErr turns engine not-found and conflict answers into the runtime sentinels.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %v", runtime.ErrNotFound, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%w: %v", runtime.ErrConflict, err)
	default:
		return fmt.Errorf("dockerapi %s: %w", op, err)
	}
}

// CreateVolume implements runtime.Runtime.
func (c *Client) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.api.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels})
	return mapErr("volume create", err)
}

func containerConfig(spec runtime.Spec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    runtime.EnvList(spec.Env),
		Labels: spec.Labels,
	}
	host := &container.HostConfig{
		NetworkMode:   container.NetworkMode(spec.Network),
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}
	if spec.ContainerPort > 0 {
		port := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")
		cfg.ExposedPorts = nat.PortSet{port: {}}
		if spec.HostPort > 0 {
			host.PortBindings = nat.PortMap{
				port: {{HostPort: strconv.Itoa(spec.HostPort)}},
			}
		}
	}
	if spec.Volume != "" && spec.MountPath != "" {
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: spec.Volume,
			Target: spec.MountPath,
		}}
	}
	if hc := spec.Healthcheck; hc != nil {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}
	return cfg, host
}

// Create implements runtime.Runtime.
func (c *Client) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	cfg, host := containerConfig(spec)
	resp, err := c.api.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", mapErr("container create", err)
	}
	return resp.ID, nil
}

// Start implements runtime.Runtime. Starting a running container succeeds.
func (c *Client) Start(ctx context.Context, id string) error {
	return mapErr("container start", c.api.ContainerStart(ctx, id, container.StartOptions{}))
}

// Stop implements runtime.Runtime.
func (c *Client) Stop(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	return mapErr("container stop", c.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

// Remove implements runtime.Runtime.
func (c *Client) Remove(ctx context.Context, id string) error {
	return mapErr("container remove", c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

// RemoveVolume implements runtime.Runtime.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	return mapErr("volume remove", c.api.VolumeRemove(ctx, name, false))
}

// Inspect implements runtime.Runtime.
func (c *Client) Inspect(ctx context.Context, id string) (*runtime.State, error) {
	resp, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return nil, mapErr("container inspect", err)
	}
	st := &runtime.State{Health: runtime.HealthNone}
	if resp.ContainerJSONBase == nil {
		return st, nil
	}
	st.ID = resp.ID
	st.Name = strings.TrimPrefix(resp.Name, "/")
	if s := resp.State; s != nil {
		st.Status = string(s.Status)
		if s.Health != nil && s.Health.Status != "" {
			st.Health = string(s.Health.Status)
		}
		if t, err := time.Parse(time.RFC3339Nano, s.StartedAt); err == nil && t.Year() > 1 {
			st.StartedAt = t
		}
	}
	return st, nil
}

// Ping implements runtime.Runtime.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return mapErr("ping", err)
}
