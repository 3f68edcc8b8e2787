package db

import (
	"path/filepath"
	"testing"
)

// newTestDB creates a schema-initialized database under a test temp dir.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// sampleAction builds a plausible completed action starting at startedAt
// (unix milliseconds).
func sampleAction(sessionID string, startedAt int64) Action {
	return Action{
		SessionID:   sessionID,
		StartedAt:   startedAt,
		EndedAt:     startedAt + 7500,
		Reason:      "hit",
		LeftScore:   3,
		RightScore:  2,
		MatchNumber: 1,
		Lights:      0x04,
	}
}

// sampleClip builds a plausible clip row, optionally linked to an action.
func sampleClip(sessionID string, actionID *int64) Clip {
	return Clip{
		SessionID:   sessionID,
		ActionID:    actionID,
		Path:        "clips/clip_20260502_193000_L3_R2.mp4",
		FrameCount:  72,
		WindowStart: 1777000000000,
		WindowEnd:   1777000009500,
		Reason:      "hit",
		LeftScore:   3,
		RightScore:  2,
	}
}
