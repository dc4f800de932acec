// Package journal keeps a SQLite history of measurement sessions and
// sweeps.
package journal

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

	"github.com/allbin/forcerig/internal/session"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("journal: not found")

// Store is an open journal database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path and applies
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSession stores an outcome and its error records.
func (s *Store) RecordSession(ctx context.Context, out session.Outcome) error {
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	warnings, err := json.Marshal(nonNil(out.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions(session_id, label, state, quality, success, critical_error, sweep_succeeded,
	homing_confirmed, abort_reason, started_at, finished_at, window_start, window_end,
	readings, error_total, warnings_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Label, out.State.String(), out.Quality.String(),
		out.Success, out.CriticalError, out.SweepSucceeded, out.HomingConfirmed,
		out.AbortReason, ts(out.Started), ts(out.Finished),
		nullTS(out.WindowStart), nullTS(out.WindowEnd),
		out.Readings, out.ErrorSummary.Total, string(warnings),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", out.ID, err)
	}

	// the summary only carries the most recent records
	for i, rec := range out.ErrorSummary.Recent {
		_, err := tx.ExecContext(ctx, `
INSERT INTO session_errors(session_id, seq, occurred_at, kind, message) VALUES (?, ?, ?, ?, ?)`,
			out.ID, i, ts(rec.Time), rec.Kind.String(), rec.Message)
		if err != nil {
			return fmt.Errorf("insert session error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session %s: %w", out.ID, err)
	}
	return nil
}

// SweepEntry is one journaled sweep.
type SweepEntry struct {
	ID        string
	SessionID string // empty for continuous-mode sweeps
	Label     string
	Path      string
	Started   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// RecordSweep stores a sweep, assigning an ID if none is set.
func (s *Store) RecordSweep(ctx context.Context, e SweepEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var sessionID any
	if e.SessionID != "" {
		sessionID = e.SessionID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sweeps(sweep_id, session_id, label, path, started_at, duration_ms, success, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, sessionID, e.Label, e.Path, ts(e.Started), e.Duration.Milliseconds(), e.Success, e.Error)
	if err != nil {
		return "", fmt.Errorf("insert sweep: %w", err)
	}
	return e.ID, nil
}

// SessionEntry is a journaled session as read back.
type SessionEntry struct {
	ID              string
	Label           string
	State           string
	Quality         string
	Success         bool
	CriticalError   bool
	SweepSucceeded  bool
	HomingConfirmed bool
	AbortReason     string
	Started         time.Time
	Finished        time.Time
	Readings        int
	ErrorTotal      int
	Warnings        []string
	Errors          []ErrorEntry
}

// ErrorEntry is one stored error record.
type ErrorEntry struct {
	Time    time.Time
	Kind    string
	Message string
}

// RecentSessions returns up to n sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, n int) ([]SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, label, state, quality, success, critical_error, sweep_succeeded, homing_confirmed,
	abort_reason, started_at, finished_at, readings, error_total, warnings_json
FROM sessions
ORDER BY started_at DESC
LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionEntry
	for rows.Next() {
		var (
			e                 SessionEntry
			started, finished string
			warnings          string
		)
		if err := rows.Scan(&e.ID, &e.Label, &e.State, &e.Quality, &e.Success, &e.CriticalError,
			&e.SweepSucceeded, &e.HomingConfirmed, &e.AbortReason, &started, &finished,
			&e.Readings, &e.ErrorTotal, &warnings); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if e.Started, err = parseTS(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.Finished, err = parseTS(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		errs, err := s.sessionErrors(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Errors = errs
	}
	return out, nil
}

// Session returns one session by id.
func (s *Store) Session(ctx context.Context, id string) (SessionEntry, error) {
	var (
		e                 SessionEntry
		started, finished string
		warnings          string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, label, state, quality, success, critical_error, sweep_succeeded, homing_confirmed,
	abort_reason, started_at, finished_at, readings, error_total, warnings_json
FROM sessions WHERE session_id = ?`, id).Scan(&e.ID, &e.Label, &e.State, &e.Quality, &e.Success,
		&e.CriticalError, &e.SweepSucceeded, &e.HomingConfirmed, &e.AbortReason, &started, &finished,
		&e.Readings, &e.ErrorTotal, &warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionEntry{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return SessionEntry{}, fmt.Errorf("query session: %w", err)
	}
	if e.Started, err = parseTS(started); err != nil {
		return SessionEntry{}, err
	}
	if e.Finished, err = parseTS(finished); err != nil {
		return SessionEntry{}, err
	}
	if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
		return SessionEntry{}, fmt.Errorf("decode warnings: %w", err)
	}
	e.Errors, err = s.sessionErrors(ctx, id)
	return e, err
}

// RecentSweeps returns up to n sweeps, newest first.
func (s *Store) RecentSweeps(ctx context.Context, n int) ([]SweepEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sweep_id, COALESCE(session_id, ''), label, path, started_at, duration_ms, success, error
FROM sweeps
ORDER BY started_at DESC
LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	var out []SweepEntry
	for rows.Next() {
		var (
			e       SweepEntry
			started string
			ms      int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Label, &e.Path, &started, &ms, &e.Success, &e.Error); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		if e.Started, err = parseTS(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) sessionErrors(ctx context.Context, id string) ([]ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT occurred_at, kind, message FROM session_errors WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query session errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var (
			e  ErrorEntry
			at string
		)
		if err := rows.Scan(&at, &e.Kind, &e.Message); err != nil {
			return nil, fmt.Errorf("scan session error: %w", err)
		}
		if e.Time, err = parseTS(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ts(t)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
