package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"authentication", Authentication("bad token"), http.StatusUnauthorized},
		{"authorization", Authorization("not yours"), http.StatusForbidden},
		{"validation", Validation("text required"), http.StatusUnprocessableEntity},
		{"conflict", Conflict("exists"), http.StatusConflict},
		{"exhausted", ResourceExhausted("no ports"), http.StatusInsufficientStorage},
		{"not found", NotFound("missing"), http.StatusNotFound},
		{"unavailable", Unavailable("nlu down", errors.New("dial")), http.StatusServiceUnavailable},
		{"rate limited", New(KindRateLimited, "slow down"), http.StatusTooManyRequests},
		{"internal", Internal(errors.New("boom")), http.StatusInternalServerError},
		{"plain error", errors.New("unclassified"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("provision: %w", Conflict("exists")), http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPublicMessage_HidesInternalDetail(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed for user admin"))
	if got := PublicMessage(err); got != "internal server error" {
		t.Errorf("PublicMessage = %q", got)
	}
	if got := PublicMessage(errors.New("raw")); got != "internal server error" {
		t.Errorf("PublicMessage(raw) = %q", got)
	}
	if got := PublicMessage(NotFound("instance not found")); got != "instance not found" {
		t.Errorf("PublicMessage = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("deadline")
	err := Unavailable("runtime timeout", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !Is(err, KindServiceUnavailable) {
		t.Error("Is should report KindServiceUnavailable")
	}
	if Is(nil, KindInternal) {
		t.Error("Is(nil) should be false")
	}
}
