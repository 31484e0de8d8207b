package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

type fakeTokens map[string]domain.Principal

func (f fakeTokens) Parse(raw string) (domain.Principal, error) {
	if raw == "expired" {
		return domain.Principal{}, auth.ErrTokenExpired
	}
	p, ok := f[raw]
	if !ok {
		return domain.Principal{}, errors.New("bad token")
	}
	return p, nil
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Write([]byte(p.UserID))
	})
}

func TestAuthenticate(t *testing.T) {
	tokens := fakeTokens{"good": {Role: domain.RoleTeacher, UserID: "t1"}}
	h := middleware.Authenticate(tokens)(principalEcho())

	tests := []struct {
		name     string
		header   string
		query    string
		status   int
		contains string
	}{
		{"bearer", "Bearer good", "", http.StatusOK, "t1"},
		{"lowercase scheme", "bearer good", "", http.StatusOK, "t1"},
		{"query token", "", "good", http.StatusOK, "t1"},
		{"missing", "", "", http.StatusUnauthorized, "authentication required"},
		{"wrong scheme", "Basic good", "", http.StatusUnauthorized, "authentication required"},
		{"invalid", "Bearer nope", "", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer expired", "", http.StatusUnauthorized, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/v1/me"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d; want %d", rec.Code, tt.status)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body = %q; want it to contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := middleware.RequireRole(domain.RoleTeacher, domain.RoleObserver)(principalEcho())

	tests := []struct {
		name   string
		role   domain.Role
		status int
	}{
		{"teacher", domain.RoleTeacher, http.StatusOK},
		{"observer", domain.RoleObserver, http.StatusOK},
		{"pending student", domain.RoleStudentPending, http.StatusForbidden},
		{"approved student", domain.RoleStudentApproved, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.WithPrincipal(req.Context(), domain.Principal{Role: tt.role, UserID: "u"}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("status = %d; want %d", rec.Code, tt.status)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no principal: status = %d; want 401", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("request id = %q / %q; want abc", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc" {
		t.Errorf("generated request id = %q", seen)
	}
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("body = %q; want INTERNAL_ERROR envelope", rec.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := middleware.CORS([]string{"http://dash.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/classes", nil)
	req.Header.Set("Origin", "http://dash.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.example" {
		t.Errorf("Allow-Origin = %q; want http://dash.example", got)
	}
}

func TestRateLimit_Handler(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Minute, 1)
	defer rl.Stop()
	h := middleware.RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d; want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d; want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "RATE_LIMITED") {
		t.Errorf("body = %q; want RATE_LIMITED", rec.Body.String())
	}
}
