// Package store keeps the run log: one row per agent run in a local
// SQLite file, used by gateway status and the doctor command.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Run statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Run is one recorded agent run.
type Run struct {
	ID           string    `json:"id"`
	SessionKey   string    `json:"sessionKey"`
	Channel      string    `json:"channel"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Turns        int       `json:"turns"`
	ToolCalls    int       `json:"toolCalls"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	DurationMs   int64     `json:"durationMs"`
	StartedAt    time.Time `json:"startedAt"`
}

// RunLog records agent runs in a SQLite file.
//
// The pool is capped at one connection so concurrent writers serialize
// through it instead of racing into SQLITE_BUSY.
type RunLog struct {
	db *sql.DB
}

// Open opens (or creates) the run log at path.
func Open(path string) (*RunLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run log dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &RunLog{db: db}
	if err := r.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *RunLog) init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		session_key   TEXT NOT NULL,
		channel       TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		turns         INTEGER NOT NULL DEFAULT 0,
		tool_calls    INTEGER NOT NULL DEFAULT 0,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		started_at    INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`)
	if err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	return nil
}

// Record inserts one finished run.
func (r *RunLog) Record(ctx context.Context, run Run) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO runs
		(id, session_key, channel, status, error, turns, tool_calls,
		 input_tokens, output_tokens, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionKey, run.Channel, run.Status, run.Error,
		run.Turns, run.ToolCalls, run.InputTokens, run.OutputTokens,
		run.DurationMs, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (r *RunLog) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
		id, session_key, channel, status, error, turns, tool_calls,
		input_tokens, output_tokens, duration_ms, started_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var startedMs int64
		if err := rows.Scan(&run.ID, &run.SessionKey, &run.Channel, &run.Status,
			&run.Error, &run.Turns, &run.ToolCalls, &run.InputTokens,
			&run.OutputTokens, &run.DurationMs, &startedMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMs)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Count returns the total number of recorded runs.
func (r *RunLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (r *RunLog) Close() error { return r.db.Close() }
