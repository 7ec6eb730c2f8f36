package filepipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/cel-go/cel"
	"github.com/raffis/importer/internal/store"
	"github.com/raffis/importer/pkg/apis/importer/v1beta1"
	"github.com/raffis/importer/pkg/importer"
)

var (
	ErrUnsupportedDomainManager = errors.New("domain manager does not store records")
	ErrInvalidTimestamp         = errors.New("invalid incremental timestamp")
)

// RecordStore is the domain manager file pipelines load into.
type RecordStore interface {
	importer.DomainManager
	Upsert(ctx context.Context, batch store.Batch, autoCommit bool) (*importer.OutcomeList, error)
	Purge(ctx context.Context, resource string, before time.Time) (int64, error)
}

// Pipeline imports the records of a csv or jsonl file into the record store.
type Pipeline struct {
	importer.BasePipeline
	spec        v1beta1.PipelineSpec
	path        string
	transformer *transformer
	now         func() time.Time

	mu           sync.Mutex
	src          source
	cursor       int
	firstExtract time.Time
}

type Option func(*options)

type options struct {
	logger  logr.Logger
	baseDir string
	celEnv  *cel.Env
	now     func() time.Time
}

func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBaseDir resolves relative source paths from dir.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

func WithCelEnv(env *cel.Env) Option {
	return func(o *options) {
		o.celEnv = env
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New compiles the pipeline spec. The returned pipeline implements the optional
// identity interfaces only if the spec sets a username or organization.
func New(spec v1beta1.PipelineSpec, opts ...Option) (importer.Pipeline, error) {
	o := options{
		logger: logr.Discard(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(&o)
	}

	spec.SetDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", spec.Name, err)
	}

	if o.celEnv == nil {
		env, err := NewCelEnv()
		if err != nil {
			return nil, fmt.Errorf("setup cel env failed: %w", err)
		}

		o.celEnv = env
	}

	var mergePatch []byte
	if spec.MergePatch != nil {
		mergePatch = spec.MergePatch.Raw
	}

	tr, err := newTransformer(o.celEnv, spec.Filter, spec.Fields, mergePatch)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", spec.Name, err)
	}

	path := spec.Source.Path
	if !filepath.IsAbs(path) && o.baseDir != "" {
		path = filepath.Join(o.baseDir, path)
	}

	p := &Pipeline{
		BasePipeline: importer.NewBasePipeline(o.logger.WithValues("importer_pipeline", spec.Name), spec.BatchSize),
		spec:         spec,
		path:         path,
		transformer:  tr,
		now:          o.now,
	}

	switch {
	case spec.Username != nil && spec.Organization != nil:
		return &identityPipeline{p}, nil
	case spec.Username != nil:
		return &userPipeline{p}, nil
	case spec.Organization != nil:
		return &organizationPipeline{p}, nil
	default:
		return p, nil
	}
}

// NewFromList compiles all pipelines of a manifest.
func NewFromList(list v1beta1.PipelineList, opts ...Option) ([]importer.Pipeline, error) {
	pipelines := make([]importer.Pipeline, 0, len(list.Pipelines))
	for _, spec := range list.Pipelines {
		p, err := New(spec, opts...)
		if err != nil {
			return nil, err
		}

		pipelines = append(pipelines, p)
	}

	return pipelines, nil
}

func (p *Pipeline) Name() string {
	return p.spec.Name
}

func (p *Pipeline) Spec() v1beta1.PipelineSpec {
	return p.spec
}

// BatchSize is zero if the whole source is imported as a single batch.
func (p *Pipeline) BatchSize() int {
	return p.spec.BatchSize
}

func (p *Pipeline) Incremental() bool {
	return p.spec.Incremental != nil
}

func (p *Pipeline) RequiredPipelines() []string {
	return p.spec.Requires
}

// Extract reads the page at cursor. Sequential cursors continue reading the open source,
// any other cursor reopens it. Records older than startAt are skipped for incremental pipelines.
func (p *Pipeline) Extract(ctx context.Context, cursor int, startAt *time.Time) ([]importer.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cursor == 0 {
		p.firstExtract = p.now()
	}

	if cursor == 0 || cursor != p.cursor {
		if err := p.open(); err != nil {
			return nil, err
		}

		if skip := cursor * p.spec.BatchSize; skip > 0 {
			if _, err := p.read(ctx, skip, startAt); err != nil {
				return nil, err
			}
		}
	}

	records, err := p.read(ctx, p.spec.BatchSize, startAt)
	if err != nil {
		return nil, err
	}

	p.cursor = cursor + 1
	p.Logger().V(1).Info("records extracted", "cursor", cursor, "records", len(records), "source", p.path)

	return records, nil
}

func (p *Pipeline) Transform(ctx context.Context, records []importer.Record) ([]importer.Record, error) {
	transformed := make([]importer.Record, 0, len(records))

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := p.transformer.transform(record)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		if result != nil {
			transformed = append(transformed, result)
		}
	}

	return transformed, nil
}

func (p *Pipeline) Load(ctx context.Context, dm importer.DomainManager, records []importer.Record, autoCommit bool) (*importer.OutcomeList, error) {
	rs, ok := dm.(RecordStore)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDomainManager, dm)
	}

	return rs.Upsert(ctx, store.Batch{
		Resource: p.spec.Resource,
		Key:      p.spec.Key,
		Rules:    p.spec.Rules,
		Records:  records,
	}, autoCommit)
}

// CleanLoadedData purges the records of the resource which the last full run did not import.
func (p *Pipeline) CleanLoadedData(ctx context.Context, dm importer.DomainManager, startAt *time.Time) error {
	if !p.spec.Clean || startAt != nil {
		return nil
	}

	rs, ok := dm.(RecordStore)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedDomainManager, dm)
	}

	p.mu.Lock()
	before := p.firstExtract
	p.mu.Unlock()

	if before.IsZero() {
		return nil
	}

	purged, err := rs.Purge(ctx, p.spec.Resource, before)
	if err != nil {
		return err
	}

	p.Logger().Info("stale records purged", "resource", p.spec.Resource, "records", purged)
	return nil
}

func (p *Pipeline) open() error {
	p.close()

	src, err := openSource(p.path, p.spec.Source)
	if err != nil {
		return err
	}

	p.src = src
	return nil
}

func (p *Pipeline) close() {
	if p.src == nil {
		return
	}

	if err := p.src.Close(); err != nil {
		p.Logger().Error(err, "failed to close source", "source", p.path)
	}

	p.src = nil
}

// read returns up to limit records matching startAt. A limit lower than 1 reads all remaining records.
// The source is closed once it is exhausted.
func (p *Pipeline) read(ctx context.Context, limit int, startAt *time.Time) ([]importer.Record, error) {
	var records []importer.Record

	for limit < 1 || len(records) < limit {
		if p.src == nil {
			return records, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := p.src.next()
		if errors.Is(err, io.EOF) {
			p.close()
			return records, nil
		}

		if err != nil {
			p.close()
			return nil, fmt.Errorf("failed to read %s: %w", p.path, err)
		}

		match, err := p.matches(record, startAt)
		if err != nil {
			p.close()
			return nil, err
		}

		if match {
			records = append(records, record)
		}
	}

	return records, nil
}

func (p *Pipeline) matches(record importer.Record, startAt *time.Time) (bool, error) {
	if startAt == nil || p.spec.Incremental == nil {
		return true, nil
	}

	field := p.spec.Incremental.Field
	value, ok := record[field].(string)
	if !ok {
		return false, fmt.Errorf("%w: field %q is missing in record %v", ErrInvalidTimestamp, field, record)
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return false, fmt.Errorf("%w: field %q: %w", ErrInvalidTimestamp, field, err)
	}

	return !t.Before(*startAt), nil
}

type userPipeline struct {
	*Pipeline
}

func (p *userPipeline) Username() string {
	return *p.spec.Username
}

type organizationPipeline struct {
	*Pipeline
}

func (p *organizationPipeline) OrganizationName() string {
	return *p.spec.Organization
}

type identityPipeline struct {
	*Pipeline
}

func (p *identityPipeline) Username() string {
	return *p.spec.Username
}

func (p *identityPipeline) OrganizationName() string {
	return *p.spec.Organization
}
