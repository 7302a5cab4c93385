package agent

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type Option func(*Agent) error

func WithServiceName(name string) Option {
	return func(a *Agent) error {
		a.serviceName = name
		return nil
	}
}

func WithServiceKey(key string) Option {
	return func(a *Agent) error {
		a.serviceKey = key
		return nil
	}
}

func WithSampleRate(rate float64) Option {
	return func(a *Agent) error {
		_, err := a.Apply(SampleRate(rate))
		return err
	}
}

func WithTraceMode(mode TraceMode) Option {
	return func(a *Agent) error {
		_, err := a.Apply(mode)
		return err
	}
}

func WithInsertPolicy(policy InsertPolicy) Option {
	return func(a *Agent) error {
		_, err := a.Apply(policy)
		return err
	}
}

// WithCustomNames switches entry span naming to controller.action form.
func WithCustomNames(enabled bool) Option {
	return func(a *Agent) error {
		a.customNames = enabled
		return nil
	}
}

func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(a *Agent) error {
		a.exporter = exporter
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}

// NewOTLPExporter ships spans over OTLP/gRPC to endpoint (host:port).
func NewOTLPExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
}
