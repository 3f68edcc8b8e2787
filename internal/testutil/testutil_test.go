package testutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// Note: the failure paths of these helpers (t.Errorf/t.Fatalf) would need a
// mock testing.T to observe; they are exercised daily by the packages that
// use them, so only the passing paths are verified here.

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestAssertErrorIs(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("base failure")
	wrapped := fmt.Errorf("context: %w", sentinel)
	AssertErrorIs(t, wrapped, sentinel)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/status")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/status" {
		t.Errorf("path = %s, want /api/status", req.URL.Path)
	}
}

func TestNewTestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	if rec == nil {
		t.Fatal("NewTestRecorder returned nil")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("default status = %d, want 200", rec.Code)
	}
}
