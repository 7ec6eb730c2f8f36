package importer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

const severityCritical = "critical"

// Manager runs the registered pipelines.
type Manager struct {
	registry          *Registry
	locker            Locker
	domainManager     DomainManager
	dispatcher        Dispatcher
	logger            logr.Logger
	logResourceErrors bool
	now               func() time.Time
	runs              atomic.Uint64
}

type Option func(*Manager)

func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLocker sets the lock backend. Defaults to a process local locker.
func WithLocker(locker Locker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

func WithDomainManager(dm DomainManager) Option {
	return func(m *Manager) {
		m.domainManager = dm
	}
}

func WithDispatcher(dispatcher Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = dispatcher
	}
}

// WithLogResourceErrors controls whether the violations of every batch are logged. Enabled by default.
func WithLogResourceErrors(enabled bool) Option {
	return func(m *Manager) {
		m.logResourceErrors = enabled
	}
}

func WithPipelines(pipelines ...Pipeline) Option {
	return func(m *Manager) {
		for _, p := range pipelines {
			m.registry.Register(p)
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:          NewRegistry(),
		locker:            NewLocalLocker(),
		domainManager:     nopDomainManager{},
		dispatcher:        discardDispatcher{},
		logger:            logr.Discard(),
		logResourceErrors: true,
		now:               time.Now,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

func (m *Manager) Register(p Pipeline) {
	m.registry.Register(p)
}

func (m *Manager) Has(name string) bool {
	return m.registry.Has(name)
}

func (m *Manager) Get(name string) (Pipeline, error) {
	return m.registry.Get(name)
}

func (m *Manager) Pipelines() map[string]Pipeline {
	return m.registry.List()
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// Stack resolves the references and returns them with their dependencies in execution order.
func (m *Manager) Stack(refs []Ref) ([]Pipeline, error) {
	r := &resolver{
		registry: m.registry,
		logger:   m.logger,
	}

	return r.resolve(refs)
}

// Import runs a single pipeline. Failures are reported by the result and the events, never returned.
func (m *Manager) Import(ctx context.Context, ref Ref, c Context) Result {
	start := m.now()
	r := &run{
		manager:   m,
		name:      ref.Name(),
		id:        fmt.Sprintf("%s:%d-%d", ref.Name(), start.UnixNano(), m.runs.Add(1)),
		context:   c,
		startedAt: start,
		logger:    m.logger,
	}

	return r.execute(ctx, ref)
}

type importsOptions struct {
	stopOnError  bool
	preCallback  func(p Pipeline, pipelines []Pipeline)
	postCallback func(result Result, pipelines []Pipeline)
}

type ImportsOption func(*importsOptions)

// WithStopOnError skips the pipelines whose dependencies did not succeed once a pipeline failed. Enabled by default.
func WithStopOnError(stopOnError bool) ImportsOption {
	return func(o *importsOptions) {
		o.stopOnError = stopOnError
	}
}

func WithPreCallback(fn func(p Pipeline, pipelines []Pipeline)) ImportsOption {
	return func(o *importsOptions) {
		o.preCallback = fn
	}
}

func WithPostCallback(fn func(result Result, pipelines []Pipeline)) ImportsOption {
	return func(o *importsOptions) {
		o.postCallback = fn
	}
}

// Imports runs the referenced pipelines and their dependencies in dependency order.
// Only dependency resolution errors are returned.
func (m *Manager) Imports(ctx context.Context, refs []Ref, c Context, opts ...ImportsOption) (ResultList, error) {
	o := importsOptions{
		stopOnError: true,
	}

	for _, opt := range opts {
		opt(&o)
	}

	pipelines, err := m.Stack(refs)
	if err != nil {
		return NewResultList(), err
	}

	results := make([]Result, 0, len(pipelines))
	succeeded := make(map[string]struct{}, len(pipelines))
	success := true

	for _, p := range pipelines {
		caps := Probe(p)
		runContext := c

		if runContext.StartAt() != nil && !caps.Incremental {
			runContext = runContext.WithStartAt(nil)
		}

		if o.preCallback != nil {
			o.preCallback(p, pipelines)
		}

		var res Result
		if o.stopOnError && !success && hasDependencyErrors(caps, succeeded) {
			res = newSkippedResult(p.Name(), SkipDependency)
		} else {
			res = m.Import(ctx, ByPipeline(p), runContext)
		}

		success = success && res.Success()
		results = append(results, res)

		if res.Success() {
			succeeded[p.Name()] = struct{}{}
		}

		if o.postCallback != nil {
			o.postCallback(res, pipelines)
		}
	}

	return NewResultList(results...), nil
}

func hasDependencyErrors(caps Capabilities, succeeded map[string]struct{}) bool {
	for _, name := range caps.HardRequirements() {
		if _, ok := succeeded[name]; !ok {
			return true
		}
	}

	return false
}

// run is the state of a single pipeline import.
type run struct {
	manager   *Manager
	name      string
	id        string
	context   Context
	startedAt time.Time
	logger    logr.Logger
	errors    int
	skipped   bool
	lock      Lock
}

func (r *run) execute(ctx context.Context, ref Ref) Result {
	defer r.release(ctx)

	if err := r.guard(func() error {
		return r.process(ctx, ref)
	}); err != nil {
		r.fail(ctx, err)
	}

	if r.skipped {
		return newSkippedResult(r.name, SkipLocked)
	}

	if err := r.guard(func() error {
		return r.dispatch(ctx, PostImport{Metadata: r.meta(), Errors: r.errors})
	}); err != nil {
		r.errors++
		r.manager.logger.Error(err, "failed to dispatch post import event",
			"severity", severityCritical,
			"importer_pipeline", r.name,
			"id", r.id,
		)
	}

	res := NewResult(r.name, &r.errors)
	res.runID = r.id
	res.duration = r.manager.now().Sub(r.startedAt)

	return res
}

func (r *run) process(ctx context.Context, ref Ref) error {
	r.manager.domainManager.Clear()

	p := ref.pipeline
	if p == nil {
		var err error
		if p, err = r.manager.registry.Get(r.name); err != nil {
			return err
		}
	}

	caps := Probe(p)
	if !caps.Logger.IsZero() {
		r.logger = caps.Logger
	}

	if caps.Username != nil {
		r.context = r.context.WithUsername(*caps.Username)
	}

	if caps.Organization != nil {
		r.context = r.context.WithOrganization(*caps.Organization)
	}

	lock, acquired, err := r.manager.locker.TryAcquire(ctx, lockKey(r.name))
	if err != nil {
		return fmt.Errorf("failed to acquire the lock of the %q pipeline: %w", r.name, err)
	}

	if !acquired {
		r.skipped = true
		r.logger.V(1).Info("import skipped, pipeline is locked", "importer_pipeline", r.name)
		return nil
	}

	r.lock = lock

	if err := r.dispatch(ctx, PreImport{Metadata: r.meta()}); err != nil {
		return err
	}

	startAt := r.context.StartAt()
	if startAt != nil && !caps.Incremental {
		return newErrIncrementalUnsupported(r.name)
	}

	if err := r.load(ctx, p, caps, startAt); err != nil {
		return err
	}

	duration := r.duration()

	if r.errors == 0 {
		if caps.Cleaner != nil {
			if err := caps.Cleaner.CleanLoadedData(ctx, r.manager.domainManager, startAt); err != nil {
				r.errors++
				msg := fmt.Sprintf("cleaning data after import from the %q pipeline finished with an error: %s", r.name, err)

				if err := r.dispatch(ctx, ErrorImport{Metadata: r.meta(), Message: msg, Err: err}); err != nil {
					return err
				}

				r.logger.Error(err, "failed to clean loaded data",
					"importer_pipeline", r.name,
					"id", r.id,
				)
			}
		}

		if r.errors == 0 {
			r.logger.Info("import finished successfully",
				"importer_pipeline", r.name,
				"id", r.id,
				"duration", duration,
			)
		}

		return nil
	}

	r.errors++
	msg := fmt.Sprintf("import data from the %q pipeline finished with an error in %.1f s", r.name, duration)

	if err := r.dispatch(ctx, ErrorImport{Metadata: r.meta(), Message: msg}); err != nil {
		return err
	}

	r.logger.Error(errors.New(msg), "import finished with errors",
		"importer_pipeline", r.name,
		"id", r.id,
		"duration", duration,
		"errors", r.errors,
	)

	return nil
}

// load runs the extract, transform and load loop.
func (r *run) load(ctx context.Context, p Pipeline, caps Capabilities, startAt *time.Time) error {
	autoCommit := r.context.AutoCommit()

	for cursor := 0; ; cursor++ {
		records, err := p.Extract(ctx, cursor, startAt)
		if err != nil {
			return fmt.Errorf("failed to extract batch %d: %w", cursor, err)
		}

		if len(records) == 0 {
			return nil
		}

		transformed, err := p.Transform(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to transform batch %d: %w", cursor, err)
		}

		outcome, err := p.Load(ctx, r.manager.domainManager, transformed, autoCommit)
		if err != nil {
			return fmt.Errorf("failed to load batch %d: %w", cursor, err)
		}

		if outcome == nil {
			outcome = NewOutcomeList(transformed)
		}

		r.errors += outcome.ErrorCount()

		if err := r.dispatch(ctx, PartialImport{Metadata: r.meta(), Cursor: cursor, Outcome: outcome}); err != nil {
			return err
		}

		if r.manager.logResourceErrors && outcome.HasErrors() {
			r.logger.Error(nil, "import batch has errors",
				"importer_pipeline", r.name,
				"id", r.id,
				"cursor", cursor,
				"errors", outcome.ErrorDetails(),
				"source_data", transformed,
			)
		} else {
			r.logger.V(1).Info("import batch loaded",
				"importer_pipeline", r.name,
				"id", r.id,
				"cursor", cursor,
				"records", len(transformed),
			)
		}

		if !caps.Batched() {
			return nil
		}
	}
}

func (r *run) fail(ctx context.Context, err error) {
	r.errors++

	if dispatchErr := r.guard(func() error {
		return r.dispatch(ctx, ErrorImport{Metadata: r.meta(), Message: err.Error(), Err: err})
	}); dispatchErr != nil {
		err = errors.Join(err, dispatchErr)
	}

	r.manager.logger.Error(err, "import failed",
		"severity", severityCritical,
		"importer_pipeline", r.name,
		"id", r.id,
	)
}

func (r *run) release(ctx context.Context) {
	if r.lock == nil {
		return
	}

	if err := r.lock.Release(ctx); err != nil {
		r.manager.logger.Error(err, "failed to release the pipeline lock",
			"importer_pipeline", r.name,
			"id", r.id,
		)
	}
}

// guard converts a panic into an error.
func (r *run) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in importer pipeline %q: %v\n trace:\n%s", r.name, rec, debug.Stack())
		}
	}()

	return fn()
}

func (r *run) dispatch(ctx context.Context, event Event) error {
	return r.manager.dispatcher.Dispatch(ctx, event)
}

func (r *run) meta() Metadata {
	return Metadata{
		Pipeline: r.name,
		RunID:    r.id,
		Context:  r.context,
	}
}

// duration is the elapsed time in seconds rounded to one decimal.
func (r *run) duration() float64 {
	return math.Round(r.manager.now().Sub(r.startedAt).Seconds()*10) / 10
}

type nopDomainManager struct{}

func (nopDomainManager) Clear() {}
