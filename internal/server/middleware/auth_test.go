package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"homestack-control-plane/internal/identity/service"
	"homestack-control-plane/internal/platform/apperr"
)

type fakeVerifier map[string]*service.Principal

func (f fakeVerifier) VerifyAccessToken(_ context.Context, token string) (*service.Principal, error) {
	if p, ok := f[token]; ok {
		return p, nil
	}
	return nil, apperr.Authentication("invalid or expired access token")
}

func serve(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, string, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seenUser string
	h := mw(func(c echo.Context) error {
		seenUser, _ = GetUserID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	return rec, seenUser, err
}

func TestRequireBearer(t *testing.T) {
	verifier := fakeVerifier{"good": {UserID: "u1", Email: "a@x.com", Role: "user"}}
	cases := []struct {
		name     string
		header   string
		wantUser string
		wantErr  bool
	}{
		{"valid", "Bearer good", "u1", false},
		{"lowercase scheme", "bearer good", "u1", false},
		{"missing", "", "", true},
		{"wrong scheme", "Basic good", "", true},
		{"unknown token", "Bearer bad", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/audit/logs", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			_, user, err := serve(RequireBearer(verifier), req)
			if tc.wantErr {
				if !apperr.Is(err, apperr.KindAuthentication) {
					t.Fatalf("want Authentication, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user != tc.wantUser {
				t.Errorf("user = %q, want %q", user, tc.wantUser)
			}
		})
	}
}

func TestInternalToken(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/instance", nil)
		rec, _, err := serve(InternalToken(""), req)
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("code=%d err=%v", rec.Code, err)
		}
	})
	t.Run("match", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/instance", nil)
		req.Header.Set(InternalTokenHeader, "s3cret")
		if _, _, err := serve(InternalToken("s3cret"), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	t.Run("mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/instance", nil)
		req.Header.Set(InternalTokenHeader, "guess")
		if _, _, err := serve(InternalToken("s3cret"), req); !apperr.Is(err, apperr.KindAuthentication) {
			t.Fatalf("want Authentication, got %v", err)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/instance", nil)
		if _, _, err := serve(InternalToken("s3cret"), req); !apperr.Is(err, apperr.KindAuthentication) {
			t.Fatalf("want Authentication, got %v", err)
		}
	})
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":     "abc",
		"BEARER  abc ":   "abc",
		"  bearer xyz  ": "xyz",
		"Bearer":         "",
		"Token abc":      "",
		"":               "",
	}
	for in, want := range cases {
		if got := ExtractBearer(in); got != want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", in, got, want)
		}
	}
}
