// Package homeassistant executes intents through the REST API of the user's Home Assistant instance.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"homestack-control-plane/internal/action"
	instancedomain "homestack-control-plane/internal/instance/domain"
	"homestack-control-plane/internal/nlu"
)

// ErrNoInstance is returned when the user has no running instance to execute against.
var ErrNoInstance = errors.New("homeassistant: no running instance for user")

// maxResponseBytes bounds how much of a service response is kept in the audit row.
const maxResponseBytes = 64 << 10

// InstanceLookup finds the instance of a user. Implemented by the instance repository.
type InstanceLookup interface {
	GetByUserID(ctx context.Context, userID string) (*instancedomain.Instance, error)
}

// Executor calls POST /api/services/{domain}/{service} on http://{host}:{host_port}.
type Executor struct {
	instances  InstanceLookup
	host       string
	token      string
	httpClient *http.Client
}

// New returns an Executor. token is the long-lived access token sent as a bearer credential.
func New(instances InstanceLookup, host, token string, httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{instances: instances, host: host, token: token, httpClient: httpClient}
}

var _ action.Executor = (*Executor)(nil)

// call is one Home Assistant REST request derived from an intent.
type call struct {
	method  string
	path    string
	domain  string
	service string
	body    map[string]interface{}
}

// Execute implements action.Executor.
func (e *Executor) Execute(ctx context.Context, userID string, intent *nlu.Intent) (*action.Result, error) {
	c, reason := plan(intent)
	if c == nil {
		return &action.Result{Executed: false, EntityID: intent.EntityID, Reason: reason}, nil
	}
	in, err := e.instances.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("homeassistant: lookup instance: %w", err)
	}
	if in == nil || in.Status != instancedomain.StatusRunning {
		return nil, ErrNoInstance
	}

	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	url := fmt.Sprintf("http://%s:%d%s", e.host, in.HostPort, c.path)
	req, err := http.NewRequestWithContext(ctx, c.method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("homeassistant: %s %s: %w", c.method, c.path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("homeassistant: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("homeassistant: %s %s returned status %d", c.method, c.path, resp.StatusCode)
	}
	res := &action.Result{Executed: true, Domain: c.domain, Service: c.service, EntityID: intent.EntityID}
	if json.Valid(raw) {
		res.Response = raw
	}
	return res, nil
}

// plan maps an intent onto a REST call. A nil call comes with the reason nothing is executed.
func plan(intent *nlu.Intent) (*call, string) {
	entity := strings.TrimSpace(intent.EntityID)
	domain, _, ok := strings.Cut(entity, ".")
	if !ok || domain == "" {
		return nil, "no target entity"
	}
	service := func(dom, svc string, extra map[string]interface{}) *call {
		body := map[string]interface{}{"entity_id": entity}
		for k, v := range extra {
			body[k] = v
		}
		return &call{
			method:  http.MethodPost,
			path:    "/api/services/" + dom + "/" + svc,
			domain:  dom,
			service: svc,
			body:    body,
		}
	}
	switch intent.Intent {
	case "turn_on", "turn_off", "toggle":
		return service(domain, intent.Intent, intent.Parameters), ""
	case "set_brightness":
		return service("light", "turn_on", intent.Parameters), ""
	case "set_temperature":
		return service("climate", "set_temperature", intent.Parameters), ""
	case "get_status", "get_info":
		return &call{method: http.MethodGet, path: "/api/states/" + entity, domain: domain, service: "state"}, ""
	default:
		return nil, "unsupported intent " + intent.Intent
	}
}
