// Package journal keeps a SQLite log of every harvest decision so runs can
// be audited after the fact.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrLocked is returned when another run holds the journal
var ErrLocked = errors.New("journal is locked by another run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	template    TEXT NOT NULL,
	site        TEXT NOT NULL,
	fields      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	error       TEXT
);

CREATE TABLE IF NOT EXISTS outcomes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	at         TEXT NOT NULL,
	page       TEXT NOT NULL,
	item       TEXT NOT NULL DEFAULT '',
	field      TEXT NOT NULL DEFAULT '',
	property   TEXT NOT NULL DEFAULT '',
	value      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
`

// Run describes one harvest run
type Run struct {
	ID         string
	Template   string
	Site       string
	Fields     string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is in progress or if it crashed
	Error      string
}

// Entry is one recorded decision
type Entry struct {
	RunID    string
	At       time.Time
	Page     string
	Item     string
	Field    string
	Property string
	Value    string
	Status   string
	Reason   string
	Detail   string
}

// Count is the number of entries sharing a status and reason
type Count struct {
	Status string
	Reason string
	Count  int
}

// Journal is an open journal database
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open opens the journal at path for writing, creating it if needed. Only
// one process may hold a journal open for writing.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring journal lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{db: db, lock: lock}, nil
}

// OpenReadOnly opens an existing journal for reporting without taking the lock
func OpenReadOnly(path string) (*Journal, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database and releases the lock
func (j *Journal) Close() error {
	err := j.db.Close()
	if j.lock != nil {
		if uerr := j.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

// StartRun records the start of a run
func (j *Journal) StartRun(ctx context.Context, run Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, template, site, fields, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Template, run.Site, run.Fields, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the end of a run and the error that ended it, if any
func (j *Journal) FinishRun(ctx context.Context, id string, at time.Time, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, error = ? WHERE id = ?`,
		formatTime(at), msg, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Append records one decision
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO outcomes (run_id, at, page, item, field, property, value, status, reason, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, formatTime(e.At), e.Page, e.Item, e.Field, e.Property, e.Value, e.Status, e.Reason, e.Detail)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Runs lists runs, most recent first
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, template, site, fields, started_at, COALESCE(finished_at, ''), COALESCE(error, '')
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Template, &r.Site, &r.Fields, &started, &finished, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Summary counts a run's entries by status and reason
func (j *Journal) Summary(ctx context.Context, runID string) ([]Count, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT status, reason, COUNT(*) FROM outcomes WHERE run_id = ?
		 GROUP BY status, reason ORDER BY status, reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var counts []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Status, &c.Reason, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Entries returns a run's entries in the order they were recorded
func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, at, page, item, field, property, value, status, reason, detail
		 FROM outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list entries of run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at string
		)
		if err := rows.Scan(&e.RunID, &at, &e.Page, &e.Item, &e.Field, &e.Property, &e.Value, &e.Status, &e.Reason, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
