package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides for routes whose verb does not describe the operation.
var routeOverrides = map[string]ActionResource{
	"POST /intent":    {Action: "process", Resource: "intent"},
	"GET /audit/logs": {Action: "list", Resource: "audit"},
}

// ParseRoute returns action and resource for an echo route pattern (e.g. GET /instance/:user_id/status).
// Resource is the first path segment. Action is the last literal segment when it differs from the
// resource (login, status, start), else a verb derived from the method: get, create, update, delete.
func ParseRoute(method, route string) ActionResource {
	if ar, ok := routeOverrides[method+" "+route]; ok {
		return ar
	}
	var literals []string
	for _, seg := range strings.Split(strings.Trim(route, "/"), "/") {
		if seg != "" && !strings.HasPrefix(seg, ":") && seg != "*" {
			literals = append(literals, seg)
		}
	}
	if len(literals) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := literals[0]
	if last := literals[len(literals)-1]; len(literals) > 1 {
		return ActionResource{Action: last, Resource: resource}
	}
	return ActionResource{Action: methodToAction(method), Resource: resource}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "get"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
