package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/audit/domain"
	"homestack-control-plane/internal/platform/apperr"
	"homestack-control-plane/internal/server/middleware"
)

type fakeLister struct {
	rows              []*domain.AuditLog
	gotUser           string
	gotLimit, gotOffs int
}

func (f *fakeLister) List(_ context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	f.gotUser, f.gotLimit, f.gotOffs = userID, limit, offset
	return f.rows, nil
}

func listAs(t *testing.T, api *AuditAPI, userID, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/audit/logs"+query, nil)
	if userID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), userID, "a@x.com", "user"))
	}
	rec := httptest.NewRecorder()
	return rec, api.ListLogs(e.NewContext(req, rec))
}

func TestAuditAPI_ListLogs(t *testing.T) {
	lister := &fakeLister{rows: []*domain.AuditLog{
		{ID: "a1", RequestID: "r1", UserID: "u1", Status: domain.StatusSuccess, Intent: json.RawMessage(`{"intent":"turn_on"}`)},
	}}
	api := NewAuditAPI(lister)

	rec, err := listAs(t, api, "u1", "?limit=10&offset=5")
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if lister.gotUser != "u1" || lister.gotLimit != 10 || lister.gotOffs != 5 {
		t.Errorf("List called with %q %d %d", lister.gotUser, lister.gotLimit, lister.gotOffs)
	}
	var body listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].RequestID != "r1" || body.Logs[0].Status != "success" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuditAPI_ListLogsDefaultsAndCaps(t *testing.T) {
	lister := &fakeLister{}
	api := NewAuditAPI(lister)
	if _, err := listAs(t, api, "u1", ""); err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if lister.gotLimit != defaultLimit || lister.gotOffs != 0 {
		t.Errorf("defaults = %d/%d", lister.gotLimit, lister.gotOffs)
	}
	if _, err := listAs(t, api, "u1", "?limit=5000"); err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if lister.gotLimit != maxLimit {
		t.Errorf("limit = %d, want cap %d", lister.gotLimit, maxLimit)
	}
}

func TestAuditAPI_ListLogsErrors(t *testing.T) {
	api := NewAuditAPI(&fakeLister{})
	if _, err := listAs(t, api, "", ""); !apperr.Is(err, apperr.KindAuthentication) {
		t.Errorf("no identity: want Authentication, got %v", err)
	}
	for _, q := range []string{"?limit=0", "?limit=x", "?offset=-1"} {
		if _, err := listAs(t, api, "u1", q); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s: want Validation, got %v", q, err)
		}
	}
}
