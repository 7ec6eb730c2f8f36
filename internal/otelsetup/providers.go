package otelsetup

import (
	"context"
	"errors"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

// Providers bundles the telemetry providers of a command.
type Providers struct {
	Tracer *trace.TracerProvider
	Meter  *metric.MeterProvider
	Logger *sdklog.LoggerProvider
}

func (o *Options) Build(ctx context.Context) (*Providers, error) {
	tp, err := o.BuildTraceProvider(ctx)
	if err != nil {
		return nil, err
	}

	mp, err := o.BuildMeterProvider(ctx)
	if err != nil {
		return nil, errors.Join(err, tp.Shutdown(ctx))
	}

	lp, err := o.BuildLoggerProvider(ctx)
	if err != nil {
		return nil, errors.Join(err, tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	return &Providers{
		Tracer: tp,
		Meter:  mp,
		Logger: lp,
	}, nil
}

// Shutdown flushes and stops all providers concurrently.
func (p *Providers) Shutdown(ctx context.Context) error {
	var g errgroup.Group

	if p.Tracer != nil {
		g.Go(func() error {
			return p.Tracer.Shutdown(ctx)
		})
	}

	if p.Meter != nil {
		g.Go(func() error {
			return p.Meter.Shutdown(ctx)
		})
	}

	if p.Logger != nil {
		g.Go(func() error {
			return p.Logger.Shutdown(ctx)
		})
	}

	return g.Wait()
}
