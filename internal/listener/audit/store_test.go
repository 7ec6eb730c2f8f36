package audit

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-logr/logr"
	"github.com/raffis/importer/pkg/importer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "audit.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, Migrate(context.TODO(), db))

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var ticks int

	return NewStore(db, WithClock(func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Minute)
	}))
}

func meta(pipeline string) importer.Metadata {
	return importer.Metadata{
		Pipeline: pipeline,
		RunID:    pipeline + ":1",
		Context:  importer.NewContext("jane", "acme", nil, false),
	}
}

func TestStoreRecordsManagerRuns(t *testing.T) {
	store := newTestStore(t)
	bus := importer.NewEventBus()
	store.Subscribe(bus, 0)

	manager := importer.NewManager(
		importer.WithDispatcher(bus),
		importer.WithPipelines(
			&stubPipeline{name: "contacts", records: []importer.Record{{"id": 1}, {"id": 2}}},
			&stubPipeline{name: "accounts", records: []importer.Record{{"id": 1}}, invalid: true},
		),
	)

	res := manager.Import(context.TODO(), importer.ByName("contacts"), importer.NewContext("jane", "", nil, true))
	require.True(t, res.Success())

	res = manager.Import(context.TODO(), importer.ByName("accounts"), importer.NewContext("", "", nil, true))
	require.False(t, res.Success())

	runs, err := store.History(context.TODO(), "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	failed := runs[0]
	assert.Equal(t, "accounts", failed.Pipeline)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, 2, failed.Errors)
	assert.Contains(t, failed.LastError, `import data from the "accounts" pipeline finished with an error`)

	succeeded := runs[1]
	assert.Equal(t, "contacts", succeeded.Pipeline)
	assert.Equal(t, StatusSucceeded, succeeded.Status)
	assert.Equal(t, "jane", succeeded.Username)
	assert.Equal(t, 1, succeeded.Batches)
	assert.Equal(t, 2, succeeded.Records)
	assert.Equal(t, 0, succeeded.Errors)
	assert.Empty(t, succeeded.LastError)
	assert.Nil(t, succeeded.StartAt)
	require.NotNil(t, succeeded.FinishedAt)
	assert.Equal(t, time.Minute, succeeded.Duration())

	last, err := store.LastImportDate(context.TODO(), "contacts")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, succeeded.StartedAt, *last)

	last, err = store.LastImportDate(context.TODO(), "accounts")
	require.NoError(t, err)
	assert.Nil(t, last)

	runs, err = store.History(context.TODO(), "contacts", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "contacts", runs[0].Pipeline)
}

func TestStoreIncrementalRun(t *testing.T) {
	store := newTestStore(t)
	startAt := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	bus := importer.NewEventBus()
	store.Subscribe(bus, 0)

	e := meta("contacts")
	e.Context = e.Context.WithStartAt(&startAt)
	require.NoError(t, bus.Dispatch(context.TODO(), importer.PreImport{Metadata: e}))

	runs, err := store.History(context.TODO(), "contacts", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Equal(t, "acme", runs[0].Organization)
	require.NotNil(t, runs[0].StartAt)
	assert.Equal(t, startAt, *runs[0].StartAt)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, time.Duration(0), runs[0].Duration())
}

func TestSetLastImportDate(t *testing.T) {
	store := newTestStore(t)
	date := time.Date(2024, 1, 31, 23, 59, 59, 500, time.UTC)

	require.NoError(t, store.SetLastImportDate(context.TODO(), "contacts", date))
	require.NoError(t, store.SetLastImportDate(context.TODO(), "contacts", date.Add(time.Hour)))

	last, err := store.LastImportDate(context.TODO(), "contacts")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, date.Add(time.Hour), *last)
}

func TestErrorWithoutPreImport(t *testing.T) {
	store := newTestStore(t)
	bus := importer.NewEventBus()
	store.Subscribe(bus, 0)

	require.NoError(t, bus.Dispatch(context.TODO(), importer.ErrorImport{Metadata: meta("contacts"), Message: "lock backend unavailable"}))
	require.NoError(t, bus.Dispatch(context.TODO(), importer.PostImport{Metadata: meta("contacts"), Errors: 1}))

	runs, err := store.History(context.TODO(), "contacts", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "lock backend unavailable", runs[0].LastError)
	assert.Equal(t, 1, runs[0].Errors)
}

func TestHandlerErrors(t *testing.T) {
	errBackend := errors.New("database is locked")

	tests := []struct {
		name   string
		event  importer.Event
		expect func(mock sqlmock.Sqlmock)
	}{
		{
			name:  "pre import",
			event: importer.PreImport{Metadata: meta("contacts")},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).WillReturnError(errBackend)
			},
		},
		{
			name:  "partial import",
			event: importer.PartialImport{Metadata: meta("contacts"), Outcome: importer.NewOutcomeList(nil)},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE import_runs")).
					WithArgs(0, "contacts:1").
					WillReturnError(errBackend)
			},
		},
		{
			name:  "error import",
			event: importer.ErrorImport{Metadata: meta("contacts"), Message: "failed"},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).WillReturnError(errBackend)
			},
		},
		{
			name:  "post import result",
			event: importer.PostImport{Metadata: meta("contacts")},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).WillReturnError(errBackend)
				mock.ExpectRollback()
			},
		},
		{
			name:  "post import checkpoint",
			event: importer.PostImport{Metadata: meta("contacts")},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_checkpoints")).
					WithArgs("contacts:1").
					WillReturnError(errBackend)
				mock.ExpectRollback()
			},
		},
		{
			name:  "post import commit",
			event: importer.PostImport{Metadata: meta("contacts"), Errors: 3},
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit().WillReturnError(errBackend)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.expect(mock)

			bus := importer.NewEventBus()
			NewStore(db).Subscribe(bus, 0)

			err = bus.Dispatch(context.TODO(), tt.event)
			assert.ErrorIs(t, err, errBackend)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostImportSkipsCheckpointOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO import_runs")).
		WithArgs("contacts:1", "contacts", "jane", "acme", sqlmock.AnyArg(), sqlmock.AnyArg(), string(StatusFailed), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bus := importer.NewEventBus()
	NewStore(db).Subscribe(bus, 0)

	require.NoError(t, bus.Dispatch(context.TODO(), importer.PostImport{Metadata: meta("contacts"), Errors: 2}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubPipeline struct {
	name    string
	records []importer.Record
	invalid bool
}

func (p *stubPipeline) Name() string {
	return p.name
}

func (p *stubPipeline) Extract(_ context.Context, cursor int, _ *time.Time) ([]importer.Record, error) {
	if cursor > 0 {
		return nil, nil
	}

	return p.records, nil
}

func (p *stubPipeline) Transform(_ context.Context, records []importer.Record) ([]importer.Record, error) {
	return records, nil
}

func (p *stubPipeline) Load(_ context.Context, _ importer.DomainManager, records []importer.Record, _ bool) (*importer.OutcomeList, error) {
	outcome := importer.NewOutcomeList(records)
	if p.invalid {
		outcome.AddRecordViolation(0, importer.Violation{Message: "is required", PropertyPath: "name"})
	}

	return outcome, nil
}
