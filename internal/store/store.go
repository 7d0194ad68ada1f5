// Package store keeps imported records and batch run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/record"
)

// ErrNotFound is returned when a run or note does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	note_type  TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_note_type ON notes(note_type);

CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	note_type    TEXT NOT NULL,
	trigger_name TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	total        INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	skip         INTEGER NOT NULL,
	errors       INTEGER NOT NULL,
	not_started  INTEGER NOT NULL,
	cancelled    INTEGER NOT NULL,
	report       TEXT NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed note and run store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One writer; SQLite serializes anyway and :memory: is per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	var n int
	return s.db.QueryRowContext(ctx, "SELECT count(*) FROM notes").Scan(&n)
}

// Import inserts or replaces recs. Records without an ID get one.
func (s *Store) Import(ctx context.Context, recs []*record.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notes (id, note_type, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET note_type = excluded.note_type, body = excluded.body, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	n := 0
	for _, r := range recs {
		if r == nil {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		body, err := json.Marshal(r)
		if err != nil {
			return n, fmt.Errorf("encode note %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.NoteType, string(body), now); err != nil {
			return n, fmt.Errorf("insert note %s: %w", r.ID, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

// Filter selects notes for List.
type Filter struct {
	NoteType string // empty: all note types
	Limit    int    // 0: no limit
}

// List returns stored notes ordered by note type then ID.
func (s *Store) List(ctx context.Context, f Filter) ([]*record.Record, error) {
	q := "SELECT body FROM notes"
	var args []any
	if f.NoteType != "" {
		q += " WHERE note_type = ?"
		args = append(args, f.NoteType)
	}
	q += " ORDER BY note_type, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		r := &record.Record{}
		if err := json.Unmarshal([]byte(body), r); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one note.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM notes WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	r := &record.Record{}
	if err := json.Unmarshal([]byte(body), r); err != nil {
		return nil, fmt.Errorf("decode note %s: %w", id, err)
	}
	return r, nil
}

// Update writes back r's fields.
func (s *Store) Update(ctx context.Context, r *record.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode note %s: %w", r.ID, err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE notes SET body = ?, updated_at = ? WHERE id = ?",
		string(body), time.Now().UTC().Format(time.RFC3339), r.ID)
	if err != nil {
		return fmt.Errorf("update note %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// Schemas returns, per note type, the union of field names seen on stored
// notes, in first-seen order.
func (s *Store) Schemas(ctx context.Context) (map[string][]string, error) {
	recs, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, r := range recs {
		if seen[r.NoteType] == nil {
			seen[r.NoteType] = make(map[string]bool)
		}
		for _, f := range r.FieldNames() {
			if !seen[r.NoteType][f] {
				seen[r.NoteType][f] = true
				out[r.NoteType] = append(out[r.NoteType], f)
			}
		}
	}
	return out, nil
}

// Run is one row of batch run history.
type Run struct {
	RunID      string
	NoteType   string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    batch.Summary
	Cancelled  bool
	Report     string // archived report path, if any
}

// RecordRun stores the summary of a finished batch.
func (s *Store) RecordRun(ctx context.Context, res batch.Result, report string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(run_id, note_type, trigger_name, started_at, finished_at, total, success, skip, errors, not_started, cancelled, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.NoteType, string(res.Trigger),
		res.StartedAt.UTC().Format(tsLayout), res.FinishedAt.UTC().Format(tsLayout),
		res.Summary.Total, res.Summary.Success, res.Summary.Skip, res.Summary.Error, res.Summary.NotStarted,
		boolInt(res.Cancelled), report)
	if err != nil {
		return fmt.Errorf("record run %s: %w", res.RunID, err)
	}
	return nil
}

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const runColumns = "run_id, note_type, trigger_name, started_at, finished_at, total, success, skip, errors, not_started, cancelled, report"

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished string
		cancelled         int
	)
	err := sc.Scan(&r.RunID, &r.NoteType, &r.Trigger, &started, &finished,
		&r.Summary.Total, &r.Summary.Success, &r.Summary.Skip, &r.Summary.Error, &r.Summary.NotStarted,
		&cancelled, &r.Report)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt, _ = time.Parse(tsLayout, started)
	r.FinishedAt, _ = time.Parse(tsLayout, finished)
	r.Cancelled = cancelled != 0
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
