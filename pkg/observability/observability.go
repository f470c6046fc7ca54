// Package observability wires OpenTelemetry tracing and metrics for
// the agent: OTLP gRPC export, RED-style run metrics, and per-outcome
// item counters.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Config configures the OpenTelemetry providers.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "steward",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages the trace and metric providers. A disabled or
// zero-value Provider is safe to call; every recorder is nil-checked.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	runCounter   metric.Int64Counter
	itemCounter  metric.Int64Counter
	errorCounter metric.Int64Counter
	runDuration  metric.Float64Histogram
}

// New creates the provider and installs it globally.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("steward",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("steward",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initRunMetrics(); err != nil {
		return nil, fmt.Errorf("init run metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initRunMetrics() error {
	var err error

	p.runCounter, err = p.meter.Int64Counter("steward.runs.total",
		metric.WithDescription("Total number of agent runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	p.itemCounter, err = p.meter.Int64Counter("steward.items.total",
		metric.WithDescription("Items processed, by terminal outcome"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("steward.item_errors.total",
		metric.WithDescription("Per-item failures, by pipeline phase"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	p.runDuration, err = p.meter.Float64Histogram("steward.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	return err
}

// RecordRun publishes one run summary: run count, duration, item
// outcomes, and per-phase error counts.
func (p *Provider) RecordRun(ctx context.Context, summary *contracts.RunSummary) {
	if summary == nil {
		return
	}
	key := attribute.String("source_key", summary.SourceKey)

	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1, metric.WithAttributes(key))
	}
	if p.runDuration != nil && !summary.EndedAt.IsZero() {
		p.runDuration.Record(ctx, summary.EndedAt.Sub(summary.StartedAt).Seconds(),
			metric.WithAttributes(key))
	}
	if p.itemCounter != nil {
		outcomes := map[string]int{
			"submitted": summary.Submitted,
			"skipped":   summary.Skipped,
			"simulated": summary.Simulated,
			"recovered": summary.Recovered,
		}
		for outcome, n := range outcomes {
			if n > 0 {
				p.itemCounter.Add(ctx, int64(n), metric.WithAttributes(
					key, attribute.String("outcome", outcome)))
			}
		}
	}
	if p.errorCounter != nil {
		for _, e := range summary.Errors {
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(
				key, attribute.String("phase", string(e.Phase))))
		}
	}
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("steward")
	}
	return p.tracer
}

// StartSpan starts a span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// Name implements lifecycle.Participant.
func (p *Provider) Name() string { return "observability" }

// Quiesce implements lifecycle.Participant. Telemetry export keeps
// running while other participants drain.
func (p *Provider) Quiesce(context.Context) error { return nil }

// Persist flushes buffered spans and metric points.
func (p *Provider) Persist(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.ForceFlush(ctx); err != nil {
			return fmt.Errorf("flush traces: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.ForceFlush(ctx); err != nil {
			return fmt.Errorf("flush metrics: %w", err)
		}
	}
	return nil
}

// Release shuts the providers down.
func (p *Provider) Release(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shut down trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shut down metric provider", "error", err)
		}
	}
	return nil
}
