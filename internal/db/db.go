package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS actions (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		started_at    BIGINT NOT NULL,
		ended_at      BIGINT NOT NULL,
		reason        TEXT NOT NULL,
		left_score    INTEGER NOT NULL DEFAULT 0,
		right_score   INTEGER NOT NULL DEFAULT 0,
		match_number  INTEGER NOT NULL DEFAULT 0,
		lights        INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actions_session_id ON actions(session_id);
	CREATE INDEX IF NOT EXISTS idx_actions_started_at ON actions(started_at);
	CREATE TABLE IF NOT EXISTS clips (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		action_id     BIGINT,
		path          TEXT NOT NULL,
		frame_count   INTEGER NOT NULL DEFAULT 0,
		window_start  BIGINT NOT NULL,
		window_end    BIGINT NOT NULL,
		reason        TEXT NOT NULL,
		left_score    INTEGER NOT NULL DEFAULT 0,
		right_score   INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(action_id) REFERENCES actions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_clips_session_id ON clips(session_id);
	CREATE INDEX IF NOT EXISTS idx_clips_action_id ON clips(action_id);
`

// NewDB opens the database and ensures the schema exists.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses it so migrations fully own schema changes.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %s: %v", pragma, err)
		}
	}
	return nil
}

// Action is one completed fencing action as stored in the actions table.
// Times are unix milliseconds.
type Action struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"session_id"`
	StartedAt   int64  `json:"started_at_ms"`
	EndedAt     int64  `json:"ended_at_ms"`
	Reason      string `json:"reason"`
	LeftScore   int    `json:"left_score"`
	RightScore  int    `json:"right_score"`
	MatchNumber int    `json:"match_number"`
	Lights      int    `json:"lights"`
}

func (a *Action) DurationMillis() int64 {
	return a.EndedAt - a.StartedAt
}

func (a *Action) String() string {
	return fmt.Sprintf("Action %d: session=%s reason=%s L%d-R%d match=%d duration=%dms",
		a.ID, a.SessionID, a.Reason, a.LeftScore, a.RightScore, a.MatchNumber, a.DurationMillis())
}

func (db *DB) RecordAction(a Action) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO actions (
			session_id, started_at, ended_at, reason, left_score, right_score,
			match_number, lights
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.StartedAt, a.EndedAt, a.Reason, a.LeftScore, a.RightScore,
		a.MatchNumber, a.Lights,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) RecentActions(limit int) ([]Action, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, session_id, started_at, ended_at, reason, left_score,
			right_score, match_number, lights
		FROM actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.StartedAt, &a.EndedAt, &a.Reason,
			&a.LeftScore, &a.RightScore, &a.MatchNumber, &a.Lights,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return actions, nil
}

// ActionDurationsMillis returns the wall-clock duration of every action as
// float64 milliseconds, oldest first, ready for statistical summaries. An
// empty sessionID means all sessions.
func (db *DB) ActionDurationsMillis(sessionID string) ([]float64, error) {
	query := "SELECT ended_at - started_at FROM actions"
	args := []interface{}{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return durations, nil
}

// Clip is one saved clip artifact as stored in the clips table. ActionID
// is nil for clips whose action row failed to record. Times are unix
// milliseconds.
type Clip struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"session_id"`
	ActionID    *int64 `json:"action_id,omitempty"`
	Path        string `json:"path"`
	FrameCount  int    `json:"frame_count"`
	WindowStart int64  `json:"window_start_ms"`
	WindowEnd   int64  `json:"window_end_ms"`
	Reason      string `json:"reason"`
	LeftScore   int    `json:"left_score"`
	RightScore  int    `json:"right_score"`
}

func (c *Clip) String() string {
	return fmt.Sprintf("Clip %d: %s (%d frames, %s, L%d-R%d)",
		c.ID, c.Path, c.FrameCount, c.Reason, c.LeftScore, c.RightScore)
}

func (db *DB) RecordClip(c Clip) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO clips (
			session_id, action_id, path, frame_count, window_start, window_end,
			reason, left_score, right_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.ActionID, c.Path, c.FrameCount, c.WindowStart, c.WindowEnd,
		c.Reason, c.LeftScore, c.RightScore,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) RecentClips(limit int) ([]Clip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, session_id, action_id, path, frame_count, window_start,
			window_end, reason, left_score, right_score
		FROM clips ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		var c Clip
		var actionID sql.NullInt64
		if err := rows.Scan(
			&c.ID, &c.SessionID, &actionID, &c.Path, &c.FrameCount,
			&c.WindowStart, &c.WindowEnd, &c.Reason, &c.LeftScore, &c.RightScore,
		); err != nil {
			return nil, err
		}
		if actionID.Valid {
			c.ActionID = &actionID.Int64
		}
		clips = append(clips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return clips, nil
}

// SessionCounts summarizes one recorder run.
type SessionCounts struct {
	SessionID string `json:"session_id"`
	Actions   int64  `json:"actions"`
	Clips     int64  `json:"clips"`
}

func (db *DB) CountsBySession() ([]SessionCounts, error) {
	rows, err := db.Query(`
		SELECT s.session_id,
			(SELECT COUNT(*) FROM actions a WHERE a.session_id = s.session_id),
			(SELECT COUNT(*) FROM clips c WHERE c.session_id = s.session_id)
		FROM (
			SELECT session_id FROM actions
			UNION
			SELECT session_id FROM clips
		) s
		ORDER BY s.session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []SessionCounts
	for rows.Next() {
		var sc SessionCounts
		if err := rows.Scan(&sc.SessionID, &sc.Actions, &sc.Clips); err != nil {
			return nil, err
		}
		counts = append(counts, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

// TableStats holds the row count of one table.
type TableStats struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// DatabaseStats summarizes the database for the db-stats debug route.
type DatabaseStats struct {
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to query page_count: %v", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to query page_size: %v", err)
	}

	stats := &DatabaseStats{
		TotalSizeMB: float64(pageCount*pageSize) / (1024 * 1024),
	}

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		var count int64
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", name)).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s: %v", name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{Name: name, RowCount: count})
	}

	return stats, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://touche.db", db.DB, &tailsql.DBOptions{
		Label: "Bout DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("db-stats", "Database size and per-table row counts", func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to collect stats: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode stats: %v", err), http.StatusInternalServerError)
		}
	})

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
