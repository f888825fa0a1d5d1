package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestHTTPMiddleware(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/api/v1/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/api/v1/campaigns/6f1c2a8e-4b7d-4c1e-9a55-0d3b1f2e7c90", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	v := getCounterValue(m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/campaigns/{id}", "404"))
	if v != 1 {
		t.Errorf("requests = %v, want 1", v)
	}
	if v := getCounterValue(m.APIErrorsTotal.WithLabelValues("not_found")); v != 1 {
		t.Errorf("errors = %v, want 1", v)
	}
}

func TestHTTPMiddlewareDefaultStatus(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	HTTPMiddleware(handler).ServeHTTP(rec, req)

	if v := getCounterValue(m.APIRequestsTotal.WithLabelValues("GET", "/health", "200")); v != 1 {
		t.Errorf("requests = %v, want 1", v)
	}
}

func TestHTTPMiddlewareNoMetrics(t *testing.T) {
	SetGlobal(nil)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	HTTPMiddleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestNormalizePathWithoutRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/campaigns", "/api/v1/campaigns"},
		{"/api/v1/campaigns/6f1c2a8e-4b7d-4c1e-9a55-0d3b1f2e7c90/stats", "/api/v1/campaigns/{id}/stats"},
		{"/api/v1/campaigns/not-a-uuid", "/api/v1/campaigns/not-a-uuid"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if got := normalizePath(req); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{500, "server_error"},
		{502, "server_error"},
		{429, "rate_limited"},
		{401, "auth_error"},
		{403, "auth_error"},
		{404, "not_found"},
		{409, "conflict"},
		{400, "bad_request"},
		{422, "bad_request"},
		{418, "client_error"},
		{200, "unknown"},
	}

	for _, tt := range tests {
		if got := categorizeStatus(tt.status); got != tt.want {
			t.Errorf("categorizeStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
