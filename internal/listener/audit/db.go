package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-logr/logr"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS import_runs (
	id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	start_at TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	batches INTEGER NOT NULL DEFAULT 0,
	records INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_import_runs_pipeline_started_at ON import_runs (pipeline, started_at);

CREATE TABLE IF NOT EXISTS import_checkpoints (
	pipeline TEXT PRIMARY KEY,
	last_import_at TEXT NOT NULL
);
`

// Open opens the sqlite audit database at path.
func Open(path string, logger logr.Logger) (*sql.DB, error) {
	logger.V(1).Info("open audit database", "path", path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Migrate creates the audit tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate audit database: %w", err)
	}

	return nil
}
