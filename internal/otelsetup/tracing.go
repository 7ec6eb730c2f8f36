package otelsetup

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// BuildTraceProvider creates a TracerProvider which samples every run.
// Without any exporter the provider records nothing.
func (o *Options) BuildTraceProvider(ctx context.Context) (*trace.TracerProvider, error) {
	providero := []trace.TracerProviderOption{
		trace.WithResource(o.resource()),
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
	}

	if o.Endpoint != "" {
		grpcOptions := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(o.Endpoint),
		}

		if o.Insecure {
			grpcOptions = append(grpcOptions, otlptracegrpc.WithInsecure())
		} else {
			tlso, err := o.getTLSConfig()
			if err != nil {
				return nil, err
			}

			grpcOptions = append(grpcOptions, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlso)))
		}

		exporter, err := otlptracegrpc.New(ctx, grpcOptions...)
		if err != nil {
			return nil, err
		}

		providero = append(providero, trace.WithBatcher(exporter))
	}

	if o.Stdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}

		providero = append(providero, trace.WithBatcher(exporter))
	}

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return trace.NewTracerProvider(providero...), nil
}
