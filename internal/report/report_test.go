package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/raffis/importer/internal/listener/audit"
	"github.com/raffis/importer/pkg/importer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tickingClock() func() time.Time {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var ticks int

	return func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
}

func runImports(t *testing.T) *Store {
	t.Helper()

	store := NewStore(WithClock(tickingClock()))
	bus := importer.NewEventBus()
	store.Subscribe(bus, 0)

	manager := importer.NewManager(
		importer.WithDispatcher(bus),
		importer.WithPipelines(
			&mockPipeline{name: "contacts", records: []importer.Record{{"id": 1}, {"id": 2}}},
			&mockPipeline{name: "accounts", records: []importer.Record{{"id": 1}}, invalid: true},
			&mockPipeline{name: "invoices", records: []importer.Record{{"id": 1}}, requires: []string{"accounts"}},
		),
	)

	results, err := manager.Imports(context.TODO(), importer.Names("contacts", "accounts", "invoices"), importer.NewContext("jane", "", nil, true))
	require.NoError(t, err)
	store.AddResults(results)

	return store
}

func TestStoreCollectsRuns(t *testing.T) {
	entries := runImports(t).Ordered()
	require.Len(t, entries, 3)

	contacts := entries[0]
	assert.Equal(t, "contacts", contacts.Pipeline)
	assert.Equal(t, StatusSucceeded, contacts.Status)
	assert.Equal(t, "jane", contacts.Username)
	assert.NotEmpty(t, contacts.RunID)
	assert.Equal(t, 1, contacts.Batches)
	assert.Equal(t, 2, contacts.Records)
	assert.Equal(t, 0, contacts.Errors)
	assert.Equal(t, time.Second, contacts.Duration.Duration)

	accounts := entries[1]
	assert.Equal(t, "accounts", accounts.Pipeline)
	assert.Equal(t, StatusFailed, accounts.Status)
	assert.Equal(t, 2, accounts.Errors)
	assert.NotEmpty(t, accounts.Message)

	invoices := entries[2]
	assert.Equal(t, "invoices", invoices.Pipeline)
	assert.Equal(t, StatusSkipped, invoices.Status)
	assert.Equal(t, string(importer.SkipDependency), invoices.SkipReason)
	assert.Nil(t, invoices.StartedAt)
}

func TestAddResultsLocked(t *testing.T) {
	store := NewStore()
	store.AddResults(importer.NewResultList(importer.NewResult("contacts", nil)))

	entries := store.Ordered()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusSkipped, entries[0].Status)
	assert.Equal(t, "locked", entries[0].SkipReason)
}

func TestFromRuns(t *testing.T) {
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	entries := FromRuns([]audit.Run{
		{
			ID:         "contacts:1",
			Pipeline:   "contacts",
			Username:   "jane",
			StartedAt:  started,
			FinishedAt: &finished,
			Status:     audit.StatusFailed,
			Batches:    2,
			Records:    10,
			Errors:     1,
			LastError:  "failed",
		},
	})

	require.Len(t, entries, 1)
	assert.Equal(t, "contacts:1", entries[0].RunID)
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, 90*time.Second, entries[0].Duration.Duration)
	assert.Equal(t, started, entries[0].StartedAt.Time)
	assert.Equal(t, "failed", entries[0].Message)
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, runImports(t).Ordered(), false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Pipeline")
	assert.Contains(t, lines[1], "contacts")
	assert.Contains(t, lines[1], "✔ succeeded")
	assert.Contains(t, lines[2], "✗ failed")
	assert.Contains(t, lines[3], "⚠ skipped (dependency)")
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, []Entry{
		{Pipeline: "contacts", Status: StatusSucceeded, Batches: 1, Records: 2},
		{Pipeline: "accounts", Status: StatusFailed, Errors: 1, Message: "a|b\n"},
	}))

	expected := "| # | Pipeline | Status | Started | Duration | Batches | Records | Errors | Message |\n" +
		"| --- | --- | --- | --- | --- | --- | --- | --- | --- |\n" +
		"| 0 | contacts | ✅ succeeded |  | 0s | 1 | 2 | 0 |  |\n" +
		"| 1 | accounts | ⛔ failed |  | 0s | 0 | 0 | 1 | a\\|b |\n"

	assert.Equal(t, expected, buf.String())
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, JSON(&buf, runImports(t).Ordered()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "contacts", decoded[0]["pipeline"])
	assert.Equal(t, "1s", decoded[0]["duration"])
	assert.Equal(t, "skipped", decoded[2]["status"])
	assert.Equal(t, "dependency", decoded[2]["skipReason"])
}

type mockPipeline struct {
	name     string
	records  []importer.Record
	requires []string
	invalid  bool
}

func (p *mockPipeline) Name() string {
	return p.name
}

func (p *mockPipeline) RequiredPipelines() []string {
	return p.requires
}

func (p *mockPipeline) Extract(_ context.Context, cursor int, _ *time.Time) ([]importer.Record, error) {
	if cursor > 0 {
		return nil, nil
	}

	return p.records, nil
}

func (p *mockPipeline) Transform(_ context.Context, records []importer.Record) ([]importer.Record, error) {
	return records, nil
}

func (p *mockPipeline) Load(_ context.Context, _ importer.DomainManager, records []importer.Record, _ bool) (*importer.OutcomeList, error) {
	outcome := importer.NewOutcomeList(records)
	if p.invalid {
		outcome.AddRecordViolation(0, importer.Violation{Message: "is required", PropertyPath: "name"})
	}

	return outcome, nil
}
