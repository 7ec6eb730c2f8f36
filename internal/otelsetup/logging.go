package otelsetup

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"google.golang.org/grpc/credentials"
)

// BuildLoggerProvider creates a LoggerProvider for the log bridge. It returns nil if no exporter is configured.
func (o *Options) BuildLoggerProvider(ctx context.Context) (*sdklog.LoggerProvider, error) {
	var processors []sdklog.Processor

	if o.Endpoint != "" {
		grpcOptions := []otlploggrpc.Option{
			otlploggrpc.WithEndpoint(o.Endpoint),
		}

		if o.Insecure {
			grpcOptions = append(grpcOptions, otlploggrpc.WithInsecure())
		} else {
			tlso, err := o.getTLSConfig()
			if err != nil {
				return nil, err
			}

			grpcOptions = append(grpcOptions, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlso)))
		}

		exporter, err := otlploggrpc.New(ctx, grpcOptions...)
		if err != nil {
			return nil, err
		}

		processors = append(processors, sdklog.NewBatchProcessor(exporter))
	}

	if o.Stdout {
		exporter, err := stdoutlog.New()
		if err != nil {
			return nil, err
		}

		processors = append(processors, sdklog.NewSimpleProcessor(exporter))
	}

	if len(processors) == 0 {
		return nil, nil
	}

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(o.resource())}
	for _, p := range processors {
		opts = append(opts, sdklog.WithProcessor(p))
	}

	return sdklog.NewLoggerProvider(opts...), nil
}
