package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestShowStats tests duration statistics over recorded actions
func TestShowStats(t *testing.T) {
	server, _, database := setupTestServer(t)

	// Four actions lasting 1s, 2s, 3s, 4s.
	for i, durMs := range []int64{1000, 2000, 3000, 4000} {
		if _, err := database.RecordAction(mkAction("session-test", 1777000000000+int64(i)*60000, durMs)); err != nil {
			t.Fatalf("Failed to insert action: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats DurationStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.Count != 4 {
		t.Errorf("Expected count 4, got %d", stats.Count)
	}
	if stats.MinMillis != 1000 || stats.MaxMillis != 4000 {
		t.Errorf("Expected min/max 1000/4000, got %v/%v", stats.MinMillis, stats.MaxMillis)
	}
	if stats.MeanMillis != 2500 {
		t.Errorf("Expected mean 2500, got %v", stats.MeanMillis)
	}
	// Empirical quantiles over {1000, 2000, 3000, 4000}.
	if stats.P50Millis != 2000 {
		t.Errorf("Expected p50 2000, got %v", stats.P50Millis)
	}
	if stats.P90Millis != 4000 {
		t.Errorf("Expected p90 4000, got %v", stats.P90Millis)
	}
	if stats.P99Millis != 4000 {
		t.Errorf("Expected p99 4000, got %v", stats.P99Millis)
	}
}

// TestShowStats_SessionFilter tests scoping statistics to one session
func TestShowStats_SessionFilter(t *testing.T) {
	server, _, database := setupTestServer(t)

	if _, err := database.RecordAction(mkAction("session-a", 1777000000000, 1000)); err != nil {
		t.Fatalf("Failed to insert action: %v", err)
	}
	if _, err := database.RecordAction(mkAction("session-b", 1777000060000, 9000)); err != nil {
		t.Fatalf("Failed to insert action: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats?session=session-b", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats DurationStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.SessionID != "session-b" {
		t.Errorf("Expected session 'session-b', got %q", stats.SessionID)
	}
	if stats.Count != 1 {
		t.Errorf("Expected count 1, got %d", stats.Count)
	}
	if stats.MinMillis != 9000 || stats.MaxMillis != 9000 {
		t.Errorf("Expected per-session duration 9000, got %v/%v", stats.MinMillis, stats.MaxMillis)
	}
}

// TestShowStats_Empty tests statistics before any actions exist
func TestShowStats_Empty(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats DurationStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.Count != 0 {
		t.Errorf("Expected count 0, got %d", stats.Count)
	}
	if stats.MeanMillis != 0 || stats.P99Millis != 0 {
		t.Errorf("Expected zero statistics, got %+v", stats)
	}
}
