package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	instancedomain "homestack-control-plane/internal/instance/domain"
	"homestack-control-plane/internal/nlu"
)

type fakeLookup map[string]*instancedomain.Instance

func (f fakeLookup) GetByUserID(_ context.Context, userID string) (*instancedomain.Instance, error) {
	return f[userID], nil
}

type recorded struct {
	method, path, auth string
	body               map[string]interface{}
}

func newHA(t *testing.T, status int) (*Executor, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method, rec.path, rec.auth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`[{"entity_id":"light.kitchen","state":"on"}]`))
	}))
	t.Cleanup(srv.Close)
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	lookup := fakeLookup{
		"u1":      {UserID: "u1", HostPort: port, Status: instancedomain.StatusRunning},
		"stopped": {UserID: "stopped", HostPort: port, Status: instancedomain.StatusStopped},
	}
	return New(lookup, host, "ha-token", srv.Client()), rec
}

func TestExecutor_CallsService(t *testing.T) {
	e, rec := newHA(t, http.StatusOK)
	res, err := e.Execute(context.Background(), "u1", &nlu.Intent{
		Intent:     "turn_on",
		EntityID:   "light.kitchen",
		Parameters: map[string]interface{}{"brightness": 128},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/api/services/light/turn_on" || rec.auth != "Bearer ha-token" {
		t.Errorf("request = %+v", rec)
	}
	if rec.body["entity_id"] != "light.kitchen" || rec.body["brightness"] != float64(128) {
		t.Errorf("body = %v", rec.body)
	}
	if !res.Executed || res.Domain != "light" || res.Service != "turn_on" || len(res.Response) == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestExecutor_Plans(t *testing.T) {
	cases := []struct {
		intent, entity string
		method, path   string
	}{
		{"toggle", "switch.fan", http.MethodPost, "/api/services/switch/toggle"},
		{"set_brightness", "light.hall", http.MethodPost, "/api/services/light/turn_on"},
		{"set_temperature", "climate.living", http.MethodPost, "/api/services/climate/set_temperature"},
		{"get_status", "sensor.door", http.MethodGet, "/api/states/sensor.door"},
	}
	for _, tc := range cases {
		t.Run(tc.intent, func(t *testing.T) {
			e, rec := newHA(t, http.StatusOK)
			if _, err := e.Execute(context.Background(), "u1", &nlu.Intent{Intent: tc.intent, EntityID: tc.entity}); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if rec.method != tc.method || rec.path != tc.path {
				t.Errorf("got %s %s, want %s %s", rec.method, rec.path, tc.method, tc.path)
			}
		})
	}
}

func TestExecutor_NotExecuted(t *testing.T) {
	e, rec := newHA(t, http.StatusOK)
	for _, in := range []*nlu.Intent{
		{Intent: "turn_on"},
		{Intent: "dance", EntityID: "light.hall"},
	} {
		res, err := e.Execute(context.Background(), "u1", in)
		if err != nil {
			t.Fatalf("Execute(%+v): %v", in, err)
		}
		if res.Executed || res.Reason == "" {
			t.Errorf("result = %+v", res)
		}
	}
	if rec.path != "" {
		t.Errorf("no request expected, got %s", rec.path)
	}
}

func TestExecutor_Errors(t *testing.T) {
	e, _ := newHA(t, http.StatusOK)
	in := &nlu.Intent{Intent: "turn_off", EntityID: "light.hall"}
	for _, user := range []string{"stopped", "nobody"} {
		if _, err := e.Execute(context.Background(), user, in); !errors.Is(err, ErrNoInstance) {
			t.Errorf("%s: want ErrNoInstance, got %v", user, err)
		}
	}

	failing, _ := newHA(t, http.StatusUnauthorized)
	if _, err := failing.Execute(context.Background(), "u1", in); err == nil {
		t.Error("expected error for 401 answer")
	}
}
