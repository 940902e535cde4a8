package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz("planning")(rec, httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["service"] != "planning" || body["status"] != "ok" {
		t.Fatalf("body=%v, want planning/ok", body)
	}
}

func TestReadyzWithChecks(t *testing.T) {
	ok := ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error { return nil }}
	failing := ReadinessCheck{Name: "minio", Check: func(ctx context.Context) error { return errors.New("unreachable") }}

	rec := httptest.NewRecorder()
	ReadyzWithChecks("qc", ok)(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	ReadyzWithChecks("qc", ok, failing)(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Fatalf("status=%v, want not_ready", body["status"])
	}
}

func TestWrap_RequestID(t *testing.T) {
	var seen string
	h := Wrap(testLogger(), "planning", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/plans", nil)
	req.Header.Set("X-Request-Id", "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "rid-9" {
		t.Fatalf("request id in context=%q, want rid-9", seen)
	}
	if rec.Header().Get("X-Request-Id") != "rid-9" {
		t.Fatalf("response header=%q, want rid-9", rec.Header().Get("X-Request-Id"))
	}

	// Missing inbound id gets generated.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/plans", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	h := Wrap(testLogger(), "planning", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/plans", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("error=%v, want internal_server_error", body["error"])
	}
}
