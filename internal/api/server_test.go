// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestServer_Healthz(t *testing.T) {
	s := NewServer(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestServer_ReadyzReflectsChecks(t *testing.T) {
	ready := true
	s := NewServer(Config{},
		ReadyCheck{Name: "pipeline", Check: func() bool { return ready }},
		ReadyCheck{Name: "always", Check: func() bool { return true }},
	)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("all checks passing: status = %d, want 200", rec.Code)
	}

	ready = false
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing check: status = %d, want 503", rec.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Components["pipeline"] != "not ready" || body.Components["always"] != "ready" {
		t.Errorf("components = %v", body.Components)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := NewServer(Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Prometheus exposition output")
	}
}
