package dockerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"homestack-control-plane/internal/runtime"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New("tcp://" + strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_Hosts(t *testing.T) {
	for _, host := range []string{"unix:///var/run/docker.sock", "tcp://127.0.0.1:2375"} {
		if _, err := New(host); err != nil {
			t.Errorf("New(%q): %v", host, err)
		}
	}
	for _, host := range []string{"unix://", "ssh://box", "tcp://"} {
		if _, err := New(host); err == nil {
			t.Errorf("New(%q) should fail", host)
		}
	}
}

func TestCreate_RequestShape(t *testing.T) {
	var got container.CreateRequest
	var name string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1.43/containers/create" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		name = r.URL.Query().Get("name")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"abc123","Warnings":[]}`))
	})

	id, err := c.Create(context.Background(), runtime.Spec{
		Name:          "ha-user-12345678",
		Image:         "homeassistant/home-assistant:latest",
		ContainerPort: 8123,
		HostPort:      8201,
		Env:           map[string]string{"TZ": "Europe/Budapest"},
		Volume:        "ha-u1",
		MountPath:     "/config",
		Network:       "central",
		RestartPolicy: "unless-stopped",
		Healthcheck: &runtime.Healthcheck{
			Test:        []string{"CMD", "curl", "-f", "http://localhost:8123/"},
			Interval:    30 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     3,
			StartPeriod: 60 * time.Second,
		},
		MemoryBytes: 512 << 20,
		NanoCPUs:    500_000_000,
		Labels:      map[string]string{"homestack.managed": "true"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "abc123" || name != "ha-user-12345678" {
		t.Errorf("id=%q name=%q", id, name)
	}
	if b := got.HostConfig.PortBindings["8123/tcp"]; len(b) != 1 || b[0].HostPort != "8201" {
		t.Errorf("port bindings = %+v", got.HostConfig.PortBindings)
	}
	if m := got.HostConfig.Mounts; len(m) != 1 || m[0].Type != mount.TypeVolume || m[0].Source != "ha-u1" || m[0].Target != "/config" {
		t.Errorf("mounts = %+v", got.HostConfig.Mounts)
	}
	if _, ok := got.ExposedPorts["8123/tcp"]; !ok {
		t.Errorf("exposed ports = %v", got.ExposedPorts)
	}
	if got.HostConfig.RestartPolicy.Name != "unless-stopped" || got.HostConfig.NetworkMode != "central" {
		t.Errorf("host config = %+v", got.HostConfig)
	}
	if got.Config == nil || got.HostConfig == nil {
		t.Fatalf("request = %+v", got)
	}
	if got.Healthcheck == nil || got.Healthcheck.Interval != 30*time.Second || got.Healthcheck.Retries != 3 {
		t.Errorf("healthcheck = %+v", got.Healthcheck)
	}
	if got.HostConfig.Memory != 512<<20 || got.HostConfig.NanoCPUs != 500_000_000 {
		t.Errorf("limits = %d / %d", got.HostConfig.Memory, got.HostConfig.NanoCPUs)
	}
	if len(got.Env) != 1 || got.Env[0] != "TZ=Europe/Budapest" {
		t.Errorf("env = %v", got.Env)
	}
}

func TestErrorMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing/json"), strings.HasPrefix(r.URL.Path, "/v1.43/volumes/"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"No such container: missing"}`))
		case r.URL.Path == "/v1.43/containers/create":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"name in use"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		}
	})
	ctx := context.Background()
	if _, err := c.Inspect(ctx, "missing"); !errors.Is(err, runtime.ErrNotFound) {
		t.Errorf("Inspect missing: %v", err)
	}
	if err := c.RemoveVolume(ctx, "ha-u1"); !errors.Is(err, runtime.ErrNotFound) {
		t.Errorf("RemoveVolume missing: %v", err)
	}
	if _, err := c.Create(ctx, runtime.Spec{Name: "dup"}); !errors.Is(err, runtime.ErrConflict) {
		t.Errorf("Create dup: %v", err)
	}
	err := c.Ping(ctx)
	if err == nil || errors.Is(err, runtime.ErrNotFound) || errors.Is(err, runtime.ErrConflict) {
		t.Errorf("Ping 500: %v", err)
	}
}

func TestStartStop_NotModifiedIsSuccess(t *testing.T) {
	var stopQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/stop") {
			stopQuery = r.URL.RawQuery
		}
		w.WriteHeader(http.StatusNotModified)
	})
	ctx := context.Background()
	if err := c.Start(ctx, "abc"); err != nil {
		t.Errorf("Start: %v", err)
	}
	if err := c.Stop(ctx, "abc", 10*time.Second); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if stopQuery != "t=10" {
		t.Errorf("stop query = %q", stopQuery)
	}
}

func TestInspect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"abc","Name":"/ha-user-1","State":{"Status":"running",` +
			`"StartedAt":"2026-05-01T10:00:00.123456789Z","Health":{"Status":"healthy"}}}`))
	})
	st, err := c.Inspect(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.Name != "ha-user-1" || st.Status != runtime.StateRunning || st.Health != "healthy" {
		t.Errorf("state = %+v", st)
	}
	if st.StartedAt.IsZero() {
		t.Error("StartedAt not parsed")
	}
}

func TestInspect_NoHealthcheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Id":"abc","Name":"/x","State":{"Status":"exited","StartedAt":"0001-01-01T00:00:00Z"}}`))
	})
	st, err := c.Inspect(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if st.Health != runtime.HealthNone || !st.StartedAt.IsZero() {
		t.Errorf("state = %+v", st)
	}
}

func TestVolumeLifecycle(t *testing.T) {
	var created struct {
		Name   string
		Labels map[string]string
	}
	var removed string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1.43/volumes/create":
			_ = json.NewDecoder(r.Body).Decode(&created)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"Name":"ha-u1","Driver":"local"}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1.43/volumes/"):
			removed = strings.TrimPrefix(r.URL.Path, "/v1.43/volumes/")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()
	if err := c.CreateVolume(ctx, "ha-u1", map[string]string{"homestack.managed": "true"}); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if created.Name != "ha-u1" || created.Labels["homestack.managed"] != "true" {
		t.Errorf("volume request = %+v", created)
	}
	if err := c.RemoveVolume(ctx, "ha-u1"); err != nil {
		t.Fatalf("RemoveVolume: %v", err)
	}
	if removed != "ha-u1" {
		t.Errorf("removed = %q", removed)
	}
}

func TestRemove_Forced(t *testing.T) {
	var query string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1.43/containers/abc" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		query = r.URL.Query().Get("force")
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.Remove(context.Background(), "abc"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if query != "1" {
		t.Errorf("force = %q", query)
	}
}
