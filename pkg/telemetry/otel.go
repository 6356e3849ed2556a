// Package telemetry wires tracing and metrics. Traces are exported over OTLP
// gRPC; metrics are Prometheus collectors served on /metrics.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig configures the OTLP gRPC trace exporter.
type OTLPConfig struct {
	// Endpoint is the collector address, e.g. "localhost:4317".
	Endpoint string

	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS for the gRPC connection.
	Insecure bool

	// Headers are sent with every export request (auth tokens).
	Headers map[string]string

	BatchTimeout  time.Duration
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces kept, 0 to 1.
	SamplingRatio float64
}

// DefaultOTLPConfig returns defaults for a local collector.
func DefaultOTLPConfig(serviceName string) OTLPConfig {
	return OTLPConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// Tracing owns the tracer provider lifecycle.
type Tracing struct {
	mu       sync.Mutex
	cfg      OTLPConfig
	provider *sdktrace.TracerProvider
}

// NewTracing creates an uninitialised tracing setup.
func NewTracing(cfg OTLPConfig) *Tracing {
	return &Tracing{cfg: cfg}
}

func (t *Tracing) sampler() sdktrace.Sampler {
	switch r := t.cfg.SamplingRatio; {
	case r >= 1:
		return sdktrace.AlwaysSample()
	case r <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	}
}

// Init builds the exporter and installs the global tracer provider. It is
// idempotent; Shutdown flushes pending spans.
func (t *Tracing) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.provider != nil {
		return nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(t.cfg.Endpoint),
		otlptracegrpc.WithTimeout(t.cfg.ExportTimeout),
	}
	if t.cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	if len(t.cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(t.cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.cfg.ServiceName),
			semconv.ServiceVersion(t.cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(t.cfg.BatchTimeout),
			sdktrace.WithExportTimeout(t.cfg.ExportTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(t.sampler()),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Tracer returns a named tracer, a no-op one before Init.
func (t *Tracing) Tracer(name string) trace.Tracer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return t.provider.Tracer(name)
}

// Shutdown flushes and stops the exporter.
func (t *Tracing) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.provider == nil {
		return nil
	}
	err := t.provider.Shutdown(ctx)
	t.provider = nil
	return err
}
