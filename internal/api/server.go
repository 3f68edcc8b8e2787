// Package api serves the recorder's operator HTTP surface: health and
// status probes, recent action and clip listings, manual trigger control
// and duration statistics. Debug chart routes live next to the admin
// routes on the root mux.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/piste-data/touche.report/internal/clip"
	"github.com/piste-data/touche.report/internal/db"
	"github.com/piste-data/touche.report/internal/recorder"
	"github.com/piste-data/touche.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Recorder is the service surface the API needs.
type Recorder interface {
	Status() recorder.Status
	TriggerStart() bool
	TriggerEnd() error
	SessionID() string
}

type Server struct {
	rec Recorder
	db  *db.DB
}

func NewServer(rec Recorder, db *db.DB) *Server {
	return &Server{
		rec: rec,
		db:  db,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the operator API routes. The entrypoint mounts this
// under /api next to the admin and debug routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.showHealth)
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/actions", s.listActions)
	mux.HandleFunc("/clips", s.listClips)
	mux.HandleFunc("/trigger/start", s.triggerStart)
	mux.HandleFunc("/trigger/end", s.triggerEnd)
	mux.HandleFunc("/stats", s.showStats)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := map[string]string{
		"status":    "ok",
		"service":   "recorder",
		"version":   version.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
		return
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.rec.Status()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

// parseLimit reads the optional limit query parameter. Zero means the
// store's default page size; negative and junk values are rejected.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter: %q", raw)
	}
	return limit, nil
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	actions, err := s.db.RecentActions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve actions: %v", err))
		return
	}
	if actions == nil {
		actions = []db.Action{}
	}

	if err := json.NewEncoder(w).Encode(actions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write actions")
		return
	}
}

func (s *Server) listClips(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	clips, err := s.db.RecentClips(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve clips: %v", err))
		return
	}
	if clips == nil {
		clips = []db.Clip{}
	}

	if err := json.NewEncoder(w).Encode(clips); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write clips")
		return
	}
}

func (s *Server) triggerStart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	started := s.rec.TriggerStart()
	json.NewEncoder(w).Encode(map[string]bool{
		"started":   started,
		"recording": true,
	})
}

func (s *Server) triggerEnd(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	err := s.rec.TriggerEnd()
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(map[string]bool{"ended": true})
	case errors.Is(err, recorder.ErrNotRecording):
		s.writeJSONError(w, http.StatusConflict, "no action in progress")
	case errors.Is(err, clip.ErrBusy):
		// The action ended and was persisted; only its clip was dropped.
		json.NewEncoder(w).Encode(map[string]bool{"ended": true, "clip_dropped": true})
	default:
		s.writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("Failed to end action: %v", err))
	}
}
