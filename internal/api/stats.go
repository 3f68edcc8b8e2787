package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DurationStats summarises completed action durations in milliseconds.
// All fields except Count are zero when no actions have been recorded.
type DurationStats struct {
	SessionID  string  `json:"session_id,omitempty"`
	Count      int     `json:"count"`
	MinMillis  float64 `json:"min_ms"`
	MaxMillis  float64 `json:"max_ms"`
	MeanMillis float64 `json:"mean_ms"`
	P50Millis  float64 `json:"p50_ms"`
	P90Millis  float64 `json:"p90_ms"`
	P99Millis  float64 `json:"p99_ms"`
}

// showStats reports action duration statistics, optionally filtered to one
// session with ?session=<id>.
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := r.URL.Query().Get("session")
	durations, err := s.db.ActionDurationsMillis(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve durations: %v", err))
		return
	}

	stats := DurationStats{SessionID: sessionID, Count: len(durations)}
	if len(durations) > 0 {
		// Quantile requires ascending input.
		sort.Float64s(durations)
		stats.MinMillis = durations[0]
		stats.MaxMillis = durations[len(durations)-1]
		stats.MeanMillis = stat.Mean(durations, nil)
		stats.P50Millis = stat.Quantile(0.50, stat.Empirical, durations, nil)
		stats.P90Millis = stat.Quantile(0.90, stat.Empirical, durations, nil)
		stats.P99Millis = stat.Quantile(0.99, stat.Empirical, durations, nil)
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}
