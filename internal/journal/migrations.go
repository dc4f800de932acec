package journal

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	state TEXT NOT NULL,
	quality TEXT NOT NULL,
	success INTEGER NOT NULL,
	critical_error INTEGER NOT NULL,
	sweep_succeeded INTEGER NOT NULL,
	homing_confirmed INTEGER NOT NULL,
	abort_reason TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	window_start TEXT,
	window_end TEXT,
	readings INTEGER NOT NULL,
	error_total INTEGER NOT NULL,
	warnings_json TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions(started_at);

CREATE TABLE IF NOT EXISTS session_errors (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	occurred_at TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	PRIMARY KEY(session_id, seq),
	FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
`,
	},
	{
		Version: 2,
		UpSQL: `
CREATE TABLE IF NOT EXISTS sweeps (
	sweep_id TEXT PRIMARY KEY,
	session_id TEXT,
	label TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS sweeps_started_at ON sweeps(started_at);
`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
