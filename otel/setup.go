package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/bintelAI/ai-workflow/runtime"
)

const instrumentationName = "github.com/bintelAI/ai-workflow"

// Config selects where telemetry goes.
type Config struct {
	// Endpoint is the OTLP/HTTP collector, either host:port or a full URL.
	// Empty keeps spans in process.
	Endpoint string

	// Insecure disables TLS for a host:port endpoint.
	Insecure bool

	// Headers are sent with every export request.
	Headers map[string]string

	// ServiceName defaults to "aiworkflow".
	ServiceName string

	// SpanExporter overrides the OTLP exporter, mainly for tests.
	SpanExporter sdktrace.SpanExporter
}

// Telemetry owns the providers and the handlers wired to them.
type Telemetry struct {
	Tracing *TracingHandler
	Metrics *MetricsHandler

	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// Setup builds the tracer and meter providers. Metrics are collected on
// demand through CollectMetrics.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "aiworkflow"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	exporter := cfg.SpanExporter
	if exporter == nil && cfg.Endpoint != "" {
		opts := []otlptracehttp.Option{}
		if strings.Contains(cfg.Endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
			if cfg.Insecure {
				opts = append(opts, otlptracehttp.WithInsecure())
			}
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel: create OTLP exporter: %w", err)
		}
		exporter = exp
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	metrics, err := NewMetricsHandler(mp.Meter(instrumentationName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("otel: create instruments: %w", err)
	}

	return &Telemetry{
		Tracing: NewTracingHandler(tp.Tracer(instrumentationName)),
		Metrics: metrics,
		tp:      tp,
		mp:      mp,
		reader:  reader,
	}, nil
}

// Handle feeds an event to both the tracing and the metrics handler.
func (t *Telemetry) Handle(e runtime.Event) {
	t.Tracing.Handle(e)
	t.Metrics.Handle(e)
}

// Instrument wires t into opts: events gain trace ids and reach both
// handlers before any handler already set on opts.
func (t *Telemetry) Instrument(opts runtime.RunOptions) runtime.RunOptions {
	if opts.EventHandler != nil {
		opts.EventHandler = runtime.MultiEventHandler(t.Handle, opts.EventHandler)
	} else {
		opts.EventHandler = t.Handle
	}
	inner := opts.EventEmitterDecorator
	opts.EventEmitterDecorator = func(emit runtime.EventEmitter) runtime.EventEmitter {
		if inner != nil {
			emit = inner(emit)
		}
		return EnrichEmitter(emit, t.Tracing)
	}
	return opts
}

// CollectMetrics reads the current metric values.
func (t *Telemetry) CollectMetrics(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.reader.Collect(ctx, &rm)
	return rm, err
}

// Flush exports spans that are still batched.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}
