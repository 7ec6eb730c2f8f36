package otelsetup

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
)

var ErrInvalidCA = errors.New("no certificates found in the ca file")

type Options struct {
	Endpoint    string
	Insecure    bool
	Stdout      bool
	ServiceName string
	TLS         struct {
		CAFile   string
		CertFile string
		KeyFile  string
	}
}

func DefaultOptions() *Options {
	return &Options{
		ServiceName: "importer",
	}
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Endpoint, "otel-endpoint", o.Endpoint, "OpenTelemetry gRPC collector endpoint. Telemetry is disabled if neither an endpoint nor `--otel-stdout` is given.")
	fs.BoolVar(&o.Insecure, "otel-insecure", o.Insecure, "Connect to the collector without TLS.")
	fs.BoolVar(&o.Stdout, "otel-stdout", o.Stdout, "Write traces, metrics and logs to stdout.")
	fs.StringVar(&o.ServiceName, "otel-service-name", o.ServiceName, "Service name reported to the collector.")
	fs.StringVar(&o.TLS.CAFile, "otel-ca-file", o.TLS.CAFile, "CA bundle used to verify the collector.")
	fs.StringVar(&o.TLS.CertFile, "otel-cert-file", o.TLS.CertFile, "Client certificate used to authenticate against the collector.")
	fs.StringVar(&o.TLS.KeyFile, "otel-key-file", o.TLS.KeyFile, "Client key used to authenticate against the collector.")
}

// Enabled reports whether any exporter is configured.
func (o *Options) Enabled() bool {
	return o.Endpoint != "" || o.Stdout
}

func (o *Options) resource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(o.ServiceName),
	)
}

func (o *Options) getTLSConfig() (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if o.TLS.CAFile != "" {
		pem, err := os.ReadFile(o.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: %w", o.TLS.CAFile, ErrInvalidCA)
		}

		config.RootCAs = pool
	}

	if o.TLS.CertFile != "" || o.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.TLS.CertFile, o.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}
