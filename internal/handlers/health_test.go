package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthzReportsUptime(t *testing.T) {
	now := time.Date(2025, time.June, 1, 10, 0, 30, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthVersion("1.2.0"),
		WithHealthClock(func() time.Time { return now }),
	)
	handlers.startedAt = now.Add(-30 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.2.0" {
		t.Fatalf("expected version 1.2.0, got %v", body["version"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestReadyzSuccess(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessCheck("firestore", func(context.Context) error { return nil }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if body.Checks["firestore"] != "ok" {
		t.Fatalf("expected firestore check ok, got %s", body.Checks["firestore"])
	}
}

func TestReadyzReportsFailure(t *testing.T) {
	handlers := NewHealthHandlers(
		WithReadinessCheck("firestore", func(context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(context.Context) error { return errors.New("topic missing") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var body struct {
		Status  string            `json:"status"`
		Checks  map[string]string `json:"checks"`
		Details []string          `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "unavailable" {
		t.Fatalf("expected status unavailable, got %s", body.Status)
	}
	if body.Checks["pubsub"] != "unavailable" {
		t.Fatalf("expected pubsub check unavailable, got %s", body.Checks["pubsub"])
	}
	if len(body.Details) != 1 {
		t.Fatalf("expected one detail, got %v", body.Details)
	}
}
