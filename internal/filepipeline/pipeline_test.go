package filepipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raffis/importer/internal/store"
	"github.com/raffis/importer/pkg/apis/importer/v1beta1"
	"github.com/raffis/importer/pkg/importer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
)

const contactsCSV = `email,name,account,active,updated_at
JANE@example.com,Jane,1,true,2024-01-01T00:00:00Z
john@example.com,John,1,true,2024-02-01T00:00:00Z
invalid,X,1,true,2024-02-01T00:00:00Z
skip@example.com,Skip,1,false,2024-02-01T00:00:00Z
`

const accountsJSONL = `{"id": "1", "name": "Acme", "updated_at": "2024-01-01T00:00:00Z"}
{"id": "2", "name": "Globex", "updated_at": "2024-03-01T00:00:00Z"}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func contactsSpec() v1beta1.PipelineSpec {
	return v1beta1.PipelineSpec{
		Name:        "contacts",
		Resource:    "contact",
		Key:         "email",
		BatchSize:   2,
		Source:      v1beta1.Source{Path: "contacts.csv"},
		Incremental: &v1beta1.Incremental{Field: "updated_at"},
		Requires:    []string{"accounts", "?tags"},
		Filter:      `record.active == "true"`,
		Fields:      map[string]string{"email": "record.email.lowerAscii()"},
		MergePatch:  &runtime.RawExtension{Raw: []byte(`{"active": null, "source": "csv"}`)},
		Rules:       map[string]string{"email": "required,email", "name": "required,min=2"},
	}
}

func accountsSpec() v1beta1.PipelineSpec {
	return v1beta1.PipelineSpec{
		Name:   "accounts",
		Key:    "id",
		Source: v1beta1.Source{Path: "accounts.jsonl"},
	}
}

func newPipeline(t *testing.T, spec v1beta1.PipelineSpec, dir string, opts ...Option) importer.Pipeline {
	t.Helper()

	p, err := New(spec, append([]Option{WithBaseDir(dir)}, opts...)...)
	require.NoError(t, err)
	return p
}

func extractAll(t *testing.T, p importer.Pipeline, startAt *time.Time) [][]importer.Record {
	t.Helper()

	var pages [][]importer.Record
	for cursor := 0; cursor < 10; cursor++ {
		records, err := p.Extract(context.TODO(), cursor, startAt)
		require.NoError(t, err)

		if len(records) == 0 {
			return pages
		}

		pages = append(pages, records)
	}

	t.Fatal("extract did not finish")
	return nil
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contacts.csv", contactsCSV)
	writeFile(t, dir, "accounts.jsonl", accountsJSONL)

	t.Run("csv pages", func(t *testing.T) {
		pages := extractAll(t, newPipeline(t, contactsSpec(), dir), nil)
		require.Len(t, pages, 2)
		assert.Len(t, pages[0], 2)
		assert.Len(t, pages[1], 2)
		assert.Equal(t, importer.Record{
			"email":      "JANE@example.com",
			"name":       "Jane",
			"account":    "1",
			"active":     "true",
			"updated_at": "2024-01-01T00:00:00Z",
		}, pages[0][0])
	})

	t.Run("incremental", func(t *testing.T) {
		startAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
		pages := extractAll(t, newPipeline(t, contactsSpec(), dir), &startAt)
		require.Len(t, pages, 2)
		assert.Equal(t, "john@example.com", pages[0][0]["email"])
		assert.Len(t, pages[1], 1)
	})

	t.Run("random access", func(t *testing.T) {
		p := newPipeline(t, contactsSpec(), dir)

		records, err := p.Extract(context.TODO(), 1, nil)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "invalid", records[0]["email"])

		records, err = p.Extract(context.TODO(), 0, nil)
		require.NoError(t, err)
		assert.Equal(t, "JANE@example.com", records[0]["email"])
	})

	t.Run("single batch", func(t *testing.T) {
		spec := contactsSpec()
		spec.BatchSize = 0
		p := newPipeline(t, spec, dir)

		assert.False(t, importer.Probe(p).Batched())
		records, err := p.Extract(context.TODO(), 0, nil)
		require.NoError(t, err)
		assert.Len(t, records, 4)
	})

	t.Run("jsonl", func(t *testing.T) {
		pages := extractAll(t, newPipeline(t, accountsSpec(), dir), nil)
		require.Len(t, pages, 1)
		assert.Equal(t, []importer.Record{
			{"id": "1", "name": "Acme", "updated_at": "2024-01-01T00:00:00Z"},
			{"id": "2", "name": "Globex", "updated_at": "2024-03-01T00:00:00Z"},
		}, pages[0])
	})

	t.Run("missing source", func(t *testing.T) {
		spec := accountsSpec()
		spec.Source.Path = "missing.jsonl"

		_, err := newPipeline(t, spec, dir).Extract(context.TODO(), 0, nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestExtractInvalidTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contacts.csv", "email,updated_at\njane@example.com,yesterday\n")

	startAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	_, err := newPipeline(t, contactsSpec(), dir).Extract(context.TODO(), 0, &startAt)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestTransform(t *testing.T) {
	p := newPipeline(t, contactsSpec(), t.TempDir())

	records, err := p.Transform(context.TODO(), []importer.Record{
		{"email": "JANE@example.com", "active": "true"},
		{"email": "john@example.com", "active": "false"},
	})

	require.NoError(t, err)
	assert.Equal(t, []importer.Record{
		{"email": "jane@example.com", "source": "csv"},
	}, records)
}

func TestTransformErrors(t *testing.T) {
	spec := contactsSpec()
	spec.Filter = `record.email`
	p := newPipeline(t, spec, t.TempDir())

	_, err := p.Transform(context.TODO(), []importer.Record{{"email": "jane@example.com"}})
	assert.ErrorContains(t, err, "must evaluate to a bool")

	_, err = newPipeline(t, contactsSpec(), t.TempDir()).Transform(context.TODO(), []importer.Record{{"name": "Jane"}})
	assert.ErrorContains(t, err, "filter expression evaluation")
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(spec *v1beta1.PipelineSpec)
		expectedErr string
	}{
		{
			name:        "invalid filter",
			mutate:      func(spec *v1beta1.PipelineSpec) { spec.Filter = "record.active ==" },
			expectedErr: "expression compilation",
		},
		{
			name:        "invalid field expression",
			mutate:      func(spec *v1beta1.PipelineSpec) { spec.Fields = map[string]string{"email": "unknown.email"} },
			expectedErr: `field "email"`,
		},
		{
			name:        "invalid spec",
			mutate:      func(spec *v1beta1.PipelineSpec) { spec.Key = "" },
			expectedErr: "key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := contactsSpec()
			tt.mutate(&spec)

			_, err := New(spec)
			assert.ErrorContains(t, err, tt.expectedErr)
		})
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name                 string
		username             *string
		organization         *string
		expectedUsername     *string
		expectedOrganization *string
	}{
		{
			name: "anonymous",
		},
		{
			name:             "user",
			username:         ptr.To("importer"),
			expectedUsername: ptr.To("importer"),
		},
		{
			name:                 "organization",
			organization:         ptr.To("acme"),
			expectedOrganization: ptr.To("acme"),
		},
		{
			name:                 "user and organization",
			username:             ptr.To("importer"),
			organization:         ptr.To("acme"),
			expectedUsername:     ptr.To("importer"),
			expectedOrganization: ptr.To("acme"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := contactsSpec()
			spec.Username = tt.username
			spec.Organization = tt.organization

			caps := importer.Probe(newPipeline(t, spec, ""))
			assert.Equal(t, tt.expectedUsername, caps.Username)
			assert.Equal(t, tt.expectedOrganization, caps.Organization)
			assert.Equal(t, 2, caps.BatchSize)
			assert.True(t, caps.Incremental)
			assert.Equal(t, []string{"accounts"}, caps.HardRequirements())
			assert.NotNil(t, caps.Cleaner)
		})
	}

	assert.False(t, importer.Probe(newPipeline(t, accountsSpec(), "")).Incremental)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contacts.csv", contactsCSV)
	writeFile(t, dir, "accounts.jsonl", accountsJSONL)

	st, err := store.Open(context.TODO(), filepath.Join(dir, "records.db"))
	require.NoError(t, err)
	defer st.Close()

	pipelines, err := NewFromList(v1beta1.PipelineList{
		Pipelines: []v1beta1.PipelineSpec{contactsSpec(), accountsSpec()},
	}, WithBaseDir(dir))
	require.NoError(t, err)

	manager := importer.NewManager(
		importer.WithDomainManager(st),
		importer.WithPipelines(pipelines...),
	)

	results, err := manager.Imports(context.TODO(), importer.Names("contacts"), importer.NewContext("", "", nil, true))
	require.NoError(t, err)
	require.Equal(t, 2, results.Len())
	assert.Equal(t, "accounts", results.Results()[0].PipelineName())
	assert.True(t, results.Results()[0].Success())
	assert.Equal(t, 3, results.ErrorCount())

	count, err := st.Count(context.TODO(), "contact")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	record, err := st.Get(context.TODO(), "contact", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, importer.Record{
		"email":      "jane@example.com",
		"name":       "Jane",
		"account":    "1",
		"updated_at": "2024-01-01T00:00:00Z",
		"source":     "csv",
	}, record)

	_, err = st.Get(context.TODO(), "accounts", "2")
	assert.NoError(t, err)
}

func TestCleanLoadedData(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tags.csv", "name\nurgent\nlater\n")

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return now
	}

	st, err := store.Open(context.TODO(), filepath.Join(dir, "records.db"), store.WithClock(clock))
	require.NoError(t, err)
	defer st.Close()

	p := newPipeline(t, v1beta1.PipelineSpec{
		Name:      "tags",
		Key:       "name",
		BatchSize: 1,
		Source:    v1beta1.Source{Path: "tags.csv"},
		Clean:     true,
	}, dir, WithClock(clock))

	manager := importer.NewManager(importer.WithDomainManager(st), importer.WithPipelines(p))
	require.True(t, manager.Import(context.TODO(), importer.ByName("tags"), importer.NewContext("", "", nil, true)).Success())

	count, err := st.Count(context.TODO(), "tags")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	writeFile(t, dir, "tags.csv", "name\nurgent\n")
	now = now.Add(time.Hour)
	require.True(t, manager.Import(context.TODO(), importer.ByName("tags"), importer.NewContext("", "", nil, true)).Success())

	count, err = st.Count(context.TODO(), "tags")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = st.Get(context.TODO(), "tags", "later")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanLoadedDataSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tags.csv", "name\nurgent\n")

	spec := v1beta1.PipelineSpec{Name: "tags", Key: "name", Source: v1beta1.Source{Path: "tags.csv"}, Clean: true}
	p := newPipeline(t, spec, dir)
	rs := &mockRecordStore{}

	_, err := p.Extract(context.TODO(), 0, nil)
	require.NoError(t, err)

	startAt := time.Now()
	cleaner := importer.Probe(p).Cleaner
	require.NoError(t, cleaner.CleanLoadedData(context.TODO(), rs, &startAt))
	assert.Equal(t, 0, rs.purged)

	require.NoError(t, cleaner.CleanLoadedData(context.TODO(), rs, nil))
	assert.Equal(t, 1, rs.purged)

	spec.Clean = false
	require.NoError(t, importer.Probe(newPipeline(t, spec, dir)).Cleaner.CleanLoadedData(context.TODO(), rs, nil))
	assert.Equal(t, 1, rs.purged)
}

func TestUnsupportedDomainManager(t *testing.T) {
	p := newPipeline(t, accountsSpec(), t.TempDir())

	_, err := p.Load(context.TODO(), &mockDomainManager{}, nil, true)
	assert.ErrorIs(t, err, ErrUnsupportedDomainManager)
}

type mockDomainManager struct{}

func (m *mockDomainManager) Clear() {}

type mockRecordStore struct {
	mockDomainManager
	purged int
}

func (m *mockRecordStore) Upsert(_ context.Context, batch store.Batch, _ bool) (*importer.OutcomeList, error) {
	return importer.NewOutcomeList(batch.Records), nil
}

func (m *mockRecordStore) Purge(context.Context, string, time.Time) (int64, error) {
	m.purged++
	return 0, nil
}
