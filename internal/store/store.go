package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/raffis/importer/pkg/importer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrMissingKey   = errors.New("resource key field is not defined")
	ErrInvalidRules = errors.New("invalid validation rules")
)

// Store persists imported records in a relational database. It is the DomainManager handed to pipelines.
type Store struct {
	db       *gorm.DB
	validate *validator.Validate
	logger   logr.Logger
	now      func() time.Time
	stats    Stats
	mu       sync.Mutex
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

// New returns a store using an existing connection. The schema is not migrated.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logr.Discard(),
		now:      time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Open opens the sqlite database at dsn and migrates the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := New(nil, opts...)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(s.logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	s.db = db
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("failed to migrate record store: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Clear resets the statistics of the current run.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = Stats{}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Batch is a set of records of one resource.
type Batch struct {
	Resource string
	// Key is the record field which identifies a record within the resource.
	Key string
	// Rules maps record fields to validator tags, e.g. "required,email".
	Rules   map[string]string
	Records []importer.Record
}

// Upsert validates and stores the records. Invalid records are reported in the outcome.
// With autoCommit every record is written on its own, otherwise the batch is written
// in one transaction and nothing is stored if any record is invalid.
func (s *Store) Upsert(ctx context.Context, batch Batch, autoCommit bool) (*importer.OutcomeList, error) {
	if batch.Key == "" {
		return nil, fmt.Errorf("resource %q: %w", batch.Resource, ErrMissingKey)
	}

	outcome := importer.NewOutcomeList(batch.Records)
	now := s.now().UTC()
	rows := make([]Record, 0, len(batch.Records))
	positions := make([]int, 0, len(batch.Records))

	for i, record := range batch.Records {
		violations, err := s.validateRecord(ctx, batch, record)
		if err != nil {
			return nil, err
		}

		if len(violations) > 0 {
			for _, v := range violations {
				outcome.AddRecordViolation(i, v)
			}

			continue
		}

		data, err := json.Marshal(record)
		if err != nil {
			outcome.AddRecordViolation(i, importer.Violation{Message: fmt.Sprintf("can not be encoded: %s", err)})
			continue
		}

		rows = append(rows, Record{
			Resource:   batch.Resource,
			RecordKey:  fmt.Sprint(record[batch.Key]),
			Data:       string(data),
			ImportedAt: now,
		})
		positions = append(positions, i)
	}

	if !autoCommit && outcome.HasErrors() {
		outcome.AddViolation(importer.Violation{
			Message: fmt.Sprintf("the batch was not stored because %d of %d records are invalid", len(batch.Records)-len(rows), len(batch.Records)),
		})

		s.count(Stats{Rejected: len(batch.Records)})
		return outcome, nil
	}

	existing, err := s.existingKeys(ctx, batch.Resource, rows)
	if err != nil {
		return nil, err
	}

	stats := Stats{Rejected: len(batch.Records) - len(rows)}

	if autoCommit {
		for i := range rows {
			if err := s.upsert(s.db.WithContext(ctx), rows[i:i+1]); err != nil {
				outcome.AddRecordViolation(positions[i], importer.Violation{Message: fmt.Sprintf("can not be stored: %s", err)})
				stats.Rejected++
				continue
			}

			stats.add(existing, rows[i].RecordKey)
		}
	} else if len(rows) > 0 {
		if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.upsert(tx, rows)
		}); err != nil {
			return nil, fmt.Errorf("failed to store %q records: %w", batch.Resource, err)
		}

		for _, row := range rows {
			stats.add(existing, row.RecordKey)
		}
	}

	s.count(stats)
	s.logger.V(1).Info("records stored",
		"resource", batch.Resource,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"rejected", stats.Rejected,
	)

	return outcome, nil
}

// Purge deletes the records of the resource which were last imported before the given time.
func (s *Store) Purge(ctx context.Context, resource string, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("resource = ? AND imported_at < ?", resource, before.UTC()).
		Delete(&Record{})

	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge %q records: %w", resource, res.Error)
	}

	return res.RowsAffected, nil
}

func (s *Store) Get(ctx context.Context, resource, key string) (importer.Record, error) {
	var row Record
	err := s.db.WithContext(ctx).
		Where("resource = ? AND record_key = ?", resource, key).
		First(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %q: %w", resource, key, ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	record := importer.Record{}
	if err := json.Unmarshal([]byte(row.Data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", resource, key, err)
	}

	return record, nil
}

func (s *Store) Count(ctx context.Context, resource string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Record{}).Where("resource = ?", resource).Count(&count).Error
	return count, err
}

func (s *Store) upsert(tx *gorm.DB, rows []Record) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "imported_at", "updated_at"}),
	}).Create(&rows).Error
}

func (s *Store) existingKeys(ctx context.Context, resource string, rows []Record) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(rows) == 0 {
		return existing, nil
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.RecordKey)
	}

	var found []string
	if err := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("resource = ? AND record_key IN ?", resource, keys).
		Pluck("record_key", &found).Error; err != nil {
		return nil, fmt.Errorf("failed to lookup %q records: %w", resource, err)
	}

	for _, key := range found {
		existing[key] = struct{}{}
	}

	return existing, nil
}

func (s *Store) validateRecord(ctx context.Context, batch Batch, record importer.Record) (violations []importer.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resource %q: %w: %v", batch.Resource, ErrInvalidRules, r)
		}
	}()

	if v, ok := record[batch.Key]; !ok || v == nil || fmt.Sprint(v) == "" {
		violations = append(violations, importer.Violation{Message: "is required", PropertyPath: batch.Key})
	}

	if len(batch.Rules) == 0 {
		return violations, nil
	}

	rules := make(map[string]any, len(batch.Rules))
	for field, rule := range batch.Rules {
		rules[field] = rule
	}

	errs := s.validate.ValidateMapCtx(ctx, map[string]any(record), rules)
	for _, field := range slices.Sorted(maps.Keys(errs)) {
		var fieldErrs validator.ValidationErrors
		if fieldErr, ok := errs[field].(error); ok && errors.As(fieldErr, &fieldErrs) {
			for _, fe := range fieldErrs {
				violations = append(violations, importer.Violation{Message: message(fe), PropertyPath: field})
			}

			continue
		}

		violations = append(violations, importer.Violation{Message: fmt.Sprint(errs[field]), PropertyPath: field})
	}

	return violations, nil
}

func (s *Store) count(stats Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Inserted += stats.Inserted
	s.stats.Updated += stats.Updated
	s.stats.Rejected += stats.Rejected
}

func (s *Stats) add(existing map[string]struct{}, key string) {
	if _, ok := existing[key]; ok {
		s.Updated++
		return
	}

	existing[key] = struct{}{}
	s.Inserted++
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must have a length of " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "url":
		return "must be a valid URL"
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed on the %q rule", fe.Tag())
	}
}
