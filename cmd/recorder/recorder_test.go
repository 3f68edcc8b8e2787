package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/piste-data/touche.report/internal/httputil"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		listen string
		want   string
	}{
		{"port only", ":8080", "http://localhost:8080"},
		{"host and port", "recorder.local:8080", "http://recorder.local:8080"},
		{"bind address", "0.0.0.0:9090", "http://0.0.0.0:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := baseURL(tt.listen); got != tt.want {
				t.Errorf("baseURL(%q) = %q, want %q", tt.listen, got, tt.want)
			}
		})
	}
}

func TestProbeHealth(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"status": "ok", "service": "recorder", "version": "dev"}`)

	if err := probeHealth(client, "http://localhost:8080"); err != nil {
		t.Fatalf("probeHealth failed: %v", err)
	}

	if client.RequestCount() != 1 {
		t.Fatalf("Expected 1 request, got %d", client.RequestCount())
	}
	req := client.GetRequest(0)
	if req.URL.String() != "http://localhost:8080/api/health" {
		t.Errorf("Probed %q, want the health endpoint", req.URL.String())
	}
}

func TestProbeHealth_NotResponding(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection refused"))

	err := probeHealth(client, "http://localhost:8080")
	if err == nil {
		t.Fatal("Expected error for unreachable service")
	}
	if !strings.Contains(err.Error(), "not responding") {
		t.Errorf("Expected 'not responding' error, got: %v", err)
	}
}

func TestProbeHealth_BadStatus(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(500, `{"error": "database unavailable"}`)

	err := probeHealth(client, "http://localhost:8080")
	if err == nil {
		t.Fatal("Expected error for a 500 response")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status code in error, got: %v", err)
	}
}

func TestProbeHealth_DegradedService(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"status": "degraded"}`)

	err := probeHealth(client, "http://localhost:8080")
	if err == nil {
		t.Fatal("Expected error for degraded status")
	}
	if !strings.Contains(err.Error(), "degraded") {
		t.Errorf("Expected reported status in error, got: %v", err)
	}
}
