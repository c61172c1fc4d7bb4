// Package recorder keeps a persistent ledger of what the agent did:
// engagement actions, errors with their screenshots, and recovery
// attempts. The ledger is what an operator reads the morning after an
// unattended run.
package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"nightshift/internal/logging"
)

// Recorder writes the ledger database under .nightshift/.
type Recorder struct {
	db       *sql.DB
	shotsDir string
}

// Open creates or opens the ledger for a workspace.
func Open(workspace string) (*Recorder, error) {
	dir := filepath.Join(workspace, ".nightshift")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("recorder: create dir: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("recorder: open database: %w", err)
	}

	r := &Recorder{
		db:       db,
		shotsDir: filepath.Join(dir, "errors"),
	}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: init schema: %w", err)
	}
	return r, nil
}

// Close closes the ledger.
func (r *Recorder) Close() error {
	return r.db.Close()
}

func (r *Recorder) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT
	);

	CREATE TABLE IF NOT EXISTS errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		context TEXT NOT NULL,
		message TEXT NOT NULL,
		screenshot_path TEXT
	);

	CREATE TABLE IF NOT EXISTS recoveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		signature TEXT NOT NULL,
		classification TEXT NOT NULL,
		plan_attempted INTEGER NOT NULL,
		repaired INTEGER NOT NULL,
		fallback_taken INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS consumed_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		draft_id TEXT,
		entry_ids TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(ts);
	CREATE INDEX IF NOT EXISTS idx_errors_ts ON errors(ts);
	`
	_, err := r.db.Exec(schema)
	return err
}

// RecordAction logs one engagement action (like, save, comment, publish).
func (r *Recorder) RecordAction(kind, detail string) {
	if _, err := r.db.Exec(
		`INSERT INTO actions (ts, kind, detail) VALUES (?, ?, ?)`,
		time.Now().UTC(), kind, detail,
	); err != nil {
		logging.Get(logging.CategorySession).Warn("record action failed: %v", err)
	}
}

// RecordError logs an error with an optional screenshot. The screenshot
// bytes are written to .nightshift/errors/ and only the path is stored.
func (r *Recorder) RecordError(context string, errMsg string, screenshot []byte) {
	var shotPath string
	if len(screenshot) > 0 {
		if err := os.MkdirAll(r.shotsDir, 0755); err == nil {
			name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405"), sanitize(context))
			shotPath = filepath.Join(r.shotsDir, name)
			if err := os.WriteFile(shotPath, screenshot, 0644); err != nil {
				logging.Get(logging.CategorySession).Warn("screenshot write failed: %v", err)
				shotPath = ""
			}
		}
	}
	if _, err := r.db.Exec(
		`INSERT INTO errors (ts, context, message, screenshot_path) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), context, errMsg, shotPath,
	); err != nil {
		logging.Get(logging.CategorySession).Warn("record error failed: %v", err)
	}
}

// RecordRecovery logs the outcome of one recovery attempt.
func (r *Recorder) RecordRecovery(signature, classification string, planAttempted, repaired, fallbackTaken bool) {
	if _, err := r.db.Exec(
		`INSERT INTO recoveries (ts, signature, classification, plan_attempted, repaired, fallback_taken)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), signature, classification, planAttempted, repaired, fallbackTaken,
	); err != nil {
		logging.Get(logging.CategorySession).Warn("record recovery failed: %v", err)
	}
}

// RecordConsumedBatch logs which knowledge entries a production cycle
// consumed, so a batch lost to a failed publish stays auditable.
func (r *Recorder) RecordConsumedBatch(draftID string, entryIDs []string) {
	joined := ""
	for i, id := range entryIDs {
		if i > 0 {
			joined += ","
		}
		joined += id
	}
	if _, err := r.db.Exec(
		`INSERT INTO consumed_batches (ts, draft_id, entry_ids) VALUES (?, ?, ?)`,
		time.Now().UTC(), draftID, joined,
	); err != nil {
		logging.Get(logging.CategorySession).Warn("record consumed batch failed: %v", err)
	}
}

// ActionCount returns the number of recorded actions of one kind, or of
// all kinds when kind is "".
func (r *Recorder) ActionCount(kind string) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM actions`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM actions WHERE kind = ?`, kind).Scan(&n)
	}
	return n, err
}

// ErrorCount returns the number of recorded errors.
func (r *Recorder) ErrorCount() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM errors`).Scan(&n)
	return n, err
}

// RecoverySummary aggregates recovery outcomes.
type RecoverySummary struct {
	Total         int
	Repaired      int
	FallbackTaken int
}

// Recoveries summarizes recorded recovery attempts.
func (r *Recorder) Recoveries() (RecoverySummary, error) {
	var s RecoverySummary
	err := r.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(repaired), 0),
		       COALESCE(SUM(fallback_taken), 0)
		FROM recoveries`).Scan(&s.Total, &s.Repaired, &s.FallbackTaken)
	return s, err
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
		if len(out) >= 40 {
			break
		}
	}
	return string(out)
}
