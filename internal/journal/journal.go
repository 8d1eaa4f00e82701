// Package journal records installation runs and their step events in a
// SQLite database so interrupted installs can be inspected and resumed.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// StepStatus is the outcome of a single step event.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Run is one installation attempt.
type Run struct {
	ID        string
	Target    string
	Status    RunStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Event is one recorded step transition within a run.
type Event struct {
	ID       int64
	RunID    string
	Step     string
	Status   StepStatus
	At       time.Time
	Detail   string
	Metadata map[string]string
}

// Journal persists runs and events to SQLite.
// Use ":memory:" for an in-memory database, or a file path for persistence.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens a journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		at INTEGER NOT NULL,
		detail TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := j.db.Exec(schema)
	return err
}

// BeginRun records a new run and returns its id.
func (j *Journal) BeginRun(ctx context.Context, target string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO runs (id, target, status, started_at) VALUES (?, ?, ?, ?)",
		id, target, RunRunning, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run's terminal status.
func (j *Journal) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, ended_at = ? WHERE id = ?",
		status, time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// Record appends a step event to a run.
func (j *Journal) Record(ctx context.Context, runID, step string, status StepStatus, detail string, metadata map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (run_id, step, status, at, detail, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		runID, step, status, time.Now().Unix(), detail, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events returns all events for a run in insertion order.
func (j *Journal) Events(ctx context.Context, runID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, run_id, step, status, at, COALESCE(detail, ''), metadata FROM events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LastIncompleteRun finds the most recent run still marked running for the
// given target, if any. Used to offer resumption after an interrupt.
func (j *Journal) LastIncompleteRun(ctx context.Context, target string) (*Run, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	row := j.db.QueryRowContext(ctx,
		"SELECT id, target, status, started_at, COALESCE(ended_at, 0) FROM runs WHERE target = ? AND status = ? ORDER BY started_at DESC LIMIT 1",
		target, RunRunning,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// CompletedSteps returns the set of steps that finished in the given run.
func (j *Journal) CompletedSteps(ctx context.Context, runID string) (map[string]bool, error) {
	events, err := j.Events(ctx, runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool)
	for _, e := range events {
		switch e.Status {
		case StepCompleted, StepSkipped:
			done[e.Step] = true
		case StepFailed:
			delete(done, e.Step)
		}
	}
	return done, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var started, ended int64
	if err := row.Scan(&r.ID, &r.Target, &r.Status, &started, &ended); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(started, 0)
	if ended > 0 {
		r.EndedAt = time.Unix(ended, 0)
	}
	return &r, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Status, &at, &e.Detail, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.Unix(at, 0)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
