package report

import (
	"context"
	"sync"
	"time"

	"github.com/raffis/importer/internal/listener/audit"
	"github.com/raffis/importer/pkg/importer"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Entry is a single pipeline run as shown in a report.
type Entry struct {
	Pipeline     string          `json:"pipeline"`
	RunID        string          `json:"runID,omitempty"`
	Username     string          `json:"username,omitempty"`
	Organization string          `json:"organization,omitempty"`
	Status       Status          `json:"status"`
	SkipReason   string          `json:"skipReason,omitempty"`
	Batches      int             `json:"batches"`
	Records      int             `json:"records"`
	Errors       int             `json:"errors"`
	StartedAt    *metav1.Time    `json:"startedAt,omitempty"`
	Duration     metav1.Duration `json:"duration"`
	Message      string          `json:"message,omitempty"`
}

// Store collects the report entries of a run from the dispatched import events.
type Store struct {
	entries []Entry
	now     func() time.Time
	mu      sync.Mutex
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now: time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *Store) Subscribe(bus *importer.EventBus, priority int) {
	importer.On(bus, priority, func(_ context.Context, e importer.PreImport) error {
		startedAt := metav1.NewTime(s.now())
		s.update(e.Pipeline, func(entry *Entry) {
			*entry = Entry{
				Pipeline:     e.Pipeline,
				RunID:        e.RunID,
				Username:     e.Context.Username(),
				Organization: e.Context.Organization(),
				Status:       StatusRunning,
				StartedAt:    &startedAt,
			}
		})

		return nil
	})

	importer.On(bus, priority, func(_ context.Context, e importer.PartialImport) error {
		s.update(e.Pipeline, func(entry *Entry) {
			entry.Batches++
			if e.Outcome != nil {
				entry.Records += len(e.Outcome.Records)
			}
		})

		return nil
	})

	importer.On(bus, priority, func(_ context.Context, e importer.ErrorImport) error {
		s.update(e.Pipeline, func(entry *Entry) {
			entry.Message = e.Message
		})

		return nil
	})

	importer.On(bus, priority, func(_ context.Context, e importer.PostImport) error {
		now := s.now()
		s.update(e.Pipeline, func(entry *Entry) {
			entry.RunID = e.RunID
			entry.Errors = e.Errors
			entry.Status = StatusSucceeded
			if !e.Success() {
				entry.Status = StatusFailed
			}

			if entry.StartedAt != nil {
				entry.Duration = metav1.Duration{Duration: now.Sub(entry.StartedAt.Time)}
			}
		})

		return nil
	})
}

// AddResults adds the pipelines which were skipped and never dispatched any event.
func (s *Store) AddResults(results importer.ResultList) {
	for _, result := range results.Results() {
		if !result.Skipped() {
			continue
		}

		s.update(result.PipelineName(), func(entry *Entry) {
			*entry = Entry{
				Pipeline:   result.PipelineName(),
				Status:     StatusSkipped,
				SkipReason: string(result.SkipReason()),
			}
		})
	}
}

// Ordered returns the entries in the order the pipelines were started.
func (s *Store) Ordered() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return entries
}

func (s *Store) update(pipeline string, fn func(entry *Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.entries {
		if v.Pipeline == pipeline {
			fn(&s.entries[k])
			return
		}
	}

	entry := Entry{Pipeline: pipeline}
	fn(&entry)
	s.entries = append(s.entries, entry)
}

// FromRuns converts recorded audit runs into report entries.
func FromRuns(runs []audit.Run) []Entry {
	entries := make([]Entry, 0, len(runs))
	for _, run := range runs {
		startedAt := metav1.NewTime(run.StartedAt)
		entries = append(entries, Entry{
			Pipeline:     run.Pipeline,
			RunID:        run.ID,
			Username:     run.Username,
			Organization: run.Organization,
			Status:       Status(run.Status),
			Batches:      run.Batches,
			Records:      run.Records,
			Errors:       run.Errors,
			StartedAt:    &startedAt,
			Duration:     metav1.Duration{Duration: run.Duration()},
			Message:      run.LastError,
		})
	}

	return entries
}
