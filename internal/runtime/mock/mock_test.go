package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"homestack-control-plane/internal/runtime"
)

func TestLifecycle(t *testing.T) {
	r := New()
	ctx := context.Background()
	if err := r.CreateVolume(ctx, "ha-u1", nil); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	id, err := r.Create(ctx, runtime.Spec{Name: "ha-user-u1", Volume: "ha-u1", Healthcheck: &runtime.Healthcheck{}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create(ctx, runtime.Spec{Name: "ha-user-u1"}); !errors.Is(err, runtime.ErrConflict) {
		t.Errorf("duplicate name: %v", err)
	}
	if err := r.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, _ := r.Inspect(ctx, id)
	if st.Status != runtime.StateRunning || st.StartedAt.IsZero() || st.Health != "starting" {
		t.Errorf("after start: %+v", st)
	}
	if err := r.Stop(ctx, id, time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(ctx, id, time.Second); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := r.RemoveVolume(ctx, "ha-u1"); !errors.Is(err, runtime.ErrConflict) {
		t.Errorf("RemoveVolume while attached: %v", err)
	}
	if err := r.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.RemoveVolume(ctx, "ha-u1"); err != nil {
		t.Fatalf("RemoveVolume: %v", err)
	}
	if _, err := r.Inspect(ctx, id); !errors.Is(err, runtime.ErrNotFound) {
		t.Errorf("Inspect removed: %v", err)
	}
	if c, v := r.Counts(); c != 0 || v != 0 {
		t.Errorf("counts = %d, %d", c, v)
	}
}

func TestCreateDelayHonorsContext(t *testing.T) {
	r := New()
	r.CreateDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Create(ctx, runtime.Spec{Name: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Create = %v, want deadline exceeded", err)
	}
}
