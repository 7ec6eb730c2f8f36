package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/raffis/importer/pkg/importer"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is a recorded pipeline run.
type Run struct {
	ID           string
	Pipeline     string
	Username     string
	Organization string
	StartAt      *time.Time
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       Status
	Batches      int
	Records      int
	Errors       int
	LastError    string
}

// Duration is zero for runs which did not finish.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// Store records the runs of the manager and the date of the last successful run per pipeline.
type Store struct {
	db     *sql.DB
	logger logr.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(logger logr.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logr.Discard(),
		now:    time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Subscribe records the events of every run dispatched by the bus.
func (s *Store) Subscribe(bus *importer.EventBus, priority int) {
	importer.On(bus, priority, s.onPreImport)
	importer.On(bus, priority, s.onPartialImport)
	importer.On(bus, priority, s.onErrorImport)
	importer.On(bus, priority, s.onPostImport)
}

func (s *Store) onPreImport(ctx context.Context, e importer.PreImport) error {
	var startAt any
	if t := e.Context.StartAt(); t != nil {
		startAt = formatTime(*t)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, pipeline, username, organization, start_at, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.RunID,
		e.Pipeline,
		e.Context.Username(),
		e.Context.Organization(),
		startAt,
		formatTime(s.now()),
		StatusRunning,
	)

	if err != nil {
		return fmt.Errorf("failed to record import run: %w", err)
	}

	return nil
}

func (s *Store) onPartialImport(ctx context.Context, e importer.PartialImport) error {
	var records int
	if e.Outcome != nil {
		records = len(e.Outcome.Records)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE import_runs
		SET batches = batches + 1,
		    records = records + ?
		WHERE id = ?
	`, records, e.RunID)

	if err != nil {
		return fmt.Errorf("failed to record import batch: %w", err)
	}

	return nil
}

func (s *Store) onErrorImport(ctx context.Context, e importer.ErrorImport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, pipeline, username, organization, started_at, status, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_error = excluded.last_error
	`,
		e.RunID,
		e.Pipeline,
		e.Context.Username(),
		e.Context.Organization(),
		formatTime(s.now()),
		StatusRunning,
		e.Message,
	)

	if err != nil {
		return fmt.Errorf("failed to record import error: %w", err)
	}

	return nil
}

func (s *Store) onPostImport(ctx context.Context, e importer.PostImport) error {
	status := StatusSucceeded
	if !e.Success() {
		status = StatusFailed
	}

	now := formatTime(s.now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO import_runs (id, pipeline, username, organization, started_at, finished_at, status, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			errors = excluded.errors
	`,
		e.RunID,
		e.Pipeline,
		e.Context.Username(),
		e.Context.Organization(),
		now,
		now,
		status,
		e.Errors,
	); err != nil {
		return fmt.Errorf("failed to record import result: %w", err)
	}

	if e.Success() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO import_checkpoints (pipeline, last_import_at)
			SELECT pipeline, started_at FROM import_runs WHERE id = ?
			ON CONFLICT (pipeline) DO UPDATE SET last_import_at = excluded.last_import_at
		`, e.RunID); err != nil {
			return fmt.Errorf("failed to record last import date: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import result: %w", err)
	}

	s.logger.V(1).Info("import run recorded", "importer_pipeline", e.Pipeline, "id", e.RunID, "status", status)
	return nil
}

// LastImportDate returns the start time of the last successful run of the pipeline or nil.
func (s *Store) LastImportDate(ctx context.Context, pipeline string) (*time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_import_at FROM import_checkpoints WHERE pipeline = ?
	`, pipeline).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get last import date: %w", err)
	}

	t, err := parseTime(value)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// SetLastImportDate overrides the last import date of the pipeline.
func (s *Store) SetLastImportDate(ctx context.Context, pipeline string, date time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_checkpoints (pipeline, last_import_at) VALUES (?, ?)
		ON CONFLICT (pipeline) DO UPDATE SET last_import_at = excluded.last_import_at
	`, pipeline, formatTime(date))

	if err != nil {
		return fmt.Errorf("failed to set last import date: %w", err)
	}

	return nil
}

// History returns the latest runs, newest first. An empty pipeline returns the runs of all pipelines,
// a limit lower than 1 returns all runs.
func (s *Store) History(ctx context.Context, pipeline string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, username, organization, start_at, started_at, finished_at,
		       status, batches, records, errors, last_error
		FROM import_runs
		WHERE ? = '' OR pipeline = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, pipeline, pipeline, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query import runs: %w", err)
	}

	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startAt, finishedAt, lastError sql.NullString
		var startedAt string

		if err := rows.Scan(
			&run.ID,
			&run.Pipeline,
			&run.Username,
			&run.Organization,
			&startAt,
			&startedAt,
			&finishedAt,
			&run.Status,
			&run.Batches,
			&run.Records,
			&run.Errors,
			&lastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}

		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}

		if startAt.Valid {
			t, err := parseTime(startAt.String)
			if err != nil {
				return nil, err
			}

			run.StartAt = &t
		}

		if finishedAt.Valid {
			t, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}

			run.FinishedAt = &t
		}

		run.LastError = lastError.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// timeLayout is RFC 3339 with a fixed width fraction so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return t, fmt.Errorf("invalid time %q: %w", value, err)
	}

	return t, nil
}
