package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/raffis/importer/pkg/importer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const Name = "github.com/raffis/importer"

type run struct {
	span    trace.Span
	started time.Time
}

// Listener traces every run as a span and records run metrics.
type Listener struct {
	tracer   trace.Tracer
	logger   logr.Logger
	now      func() time.Time
	runs     map[string]run
	mu       sync.Mutex
	runCnt   metric.Int64Counter
	batchCnt metric.Int64Counter
	recCnt   metric.Int64Counter
	errCnt   metric.Int64Counter
	duration metric.Float64Histogram
}

type Option func(*Listener)

func WithLogger(logger logr.Logger) Option {
	return func(l *Listener) {
		l.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		l.now = now
	}
}

func NewListener(tracer trace.Tracer, meter metric.Meter, opts ...Option) (*Listener, error) {
	l := &Listener{
		tracer: tracer,
		logger: logr.Discard(),
		now:    time.Now,
		runs:   make(map[string]run),
	}

	for _, o := range opts {
		o(l)
	}

	var err error
	if l.runCnt, err = meter.Int64Counter("importer.runs",
		metric.WithDescription("The number of finished import runs"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	if l.batchCnt, err = meter.Int64Counter("importer.batches",
		metric.WithDescription("The number of loaded batches"),
		metric.WithUnit("{batch}")); err != nil {
		return nil, fmt.Errorf("failed to create batches counter: %w", err)
	}

	if l.recCnt, err = meter.Int64Counter("importer.records",
		metric.WithDescription("The number of loaded records"),
		metric.WithUnit("{record}")); err != nil {
		return nil, fmt.Errorf("failed to create records counter: %w", err)
	}

	if l.errCnt, err = meter.Int64Counter("importer.errors",
		metric.WithDescription("The number of import errors"),
		metric.WithUnit("{error}")); err != nil {
		return nil, fmt.Errorf("failed to create errors counter: %w", err)
	}

	if l.duration, err = meter.Float64Histogram("importer.run.duration",
		metric.WithDescription("The duration of import runs"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return l, nil
}

func (l *Listener) Subscribe(bus *importer.EventBus, priority int) {
	importer.On(bus, priority, l.onPreImport)
	importer.On(bus, priority, l.onPartialImport)
	importer.On(bus, priority, l.onErrorImport)
	importer.On(bus, priority, l.onPostImport)
}

func (l *Listener) onPreImport(ctx context.Context, e importer.PreImport) error {
	attrs := []attribute.KeyValue{
		attribute.String("importer.pipeline", e.Pipeline),
		attribute.String("importer.run_id", e.RunID),
		attribute.Bool("importer.auto_commit", e.Context.AutoCommit()),
	}

	if username := e.Context.Username(); username != "" {
		attrs = append(attrs, attribute.String("importer.username", username))
	}

	if organization := e.Context.Organization(); organization != "" {
		attrs = append(attrs, attribute.String("importer.organization", organization))
	}

	if startAt := e.Context.StartAt(); startAt != nil {
		attrs = append(attrs, attribute.String("importer.start_at", startAt.Format(time.RFC3339)))
	}

	_, span := l.tracer.Start(ctx, "import "+e.Pipeline, trace.WithAttributes(attrs...))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.runs[e.RunID] = run{span: span, started: l.now()}
	l.logger.V(1).Info("import span started",
		"importer_pipeline", e.Pipeline,
		"span-id", span.SpanContext().SpanID(),
		"trace-id", span.SpanContext().TraceID(),
	)

	return nil
}

func (l *Listener) onPartialImport(ctx context.Context, e importer.PartialImport) error {
	var records, failures int
	if e.Outcome != nil {
		records = len(e.Outcome.Records)
		failures = e.Outcome.ErrorCount()
	}

	pipeline := metric.WithAttributes(attribute.String("importer.pipeline", e.Pipeline))
	l.batchCnt.Add(ctx, 1, pipeline)
	l.recCnt.Add(ctx, int64(records), pipeline)

	if r, ok := l.lookup(e.RunID); ok {
		r.span.AddEvent("batch loaded", trace.WithAttributes(
			attribute.Int("importer.cursor", e.Cursor),
			attribute.Int("importer.records", records),
			attribute.Int("importer.errors", failures),
		))
	}

	return nil
}

func (l *Listener) onErrorImport(ctx context.Context, e importer.ErrorImport) error {
	l.errCnt.Add(ctx, 1, metric.WithAttributes(attribute.String("importer.pipeline", e.Pipeline)))

	r, ok := l.lookup(e.RunID)
	if !ok {
		return nil
	}

	if e.Err != nil {
		r.span.RecordError(e.Err)
	} else {
		r.span.AddEvent("error", trace.WithAttributes(attribute.String("message", e.Message)))
	}

	r.span.SetStatus(codes.Error, e.Message)
	return nil
}

func (l *Listener) onPostImport(ctx context.Context, e importer.PostImport) error {
	status := "succeeded"
	if !e.Success() {
		status = "failed"
	}

	attrs := metric.WithAttributes(
		attribute.String("importer.pipeline", e.Pipeline),
		attribute.String("importer.status", status),
	)

	l.runCnt.Add(ctx, 1, attrs)

	l.mu.Lock()
	r, ok := l.runs[e.RunID]
	delete(l.runs, e.RunID)
	l.mu.Unlock()

	if !ok {
		return nil
	}

	l.duration.Record(ctx, l.now().Sub(r.started).Seconds(), attrs)

	r.span.SetAttributes(attribute.Int("importer.error_count", e.Errors))
	if e.Success() {
		r.span.SetStatus(codes.Ok, "")
	} else {
		r.span.SetStatus(codes.Error, fmt.Sprintf("import finished with %d errors", e.Errors))
	}

	r.span.End()
	return nil
}

func (l *Listener) lookup(id string) (run, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.runs[id]
	return r, ok
}
