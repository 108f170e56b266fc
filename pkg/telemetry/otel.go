package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/itsneelabh/storefront"

// Exporter names accepted in Config.Exporter
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config controls how Setup builds the tracer provider.
type Config struct {
	Enabled      bool
	ServiceName  string
	Exporter     string
	Endpoint     string  // OTLP gRPC endpoint, host:port
	Insecure     bool    // plaintext OTLP connection
	SamplingRate float64 // 0 or >=1 samples everything
	Version      string

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// Provider implements Telemetry on top of the OpenTelemetry SDK
type Provider struct {
	TraceProvider *sdktrace.TracerProvider
	Tracer        trace.Tracer
	Meter         metric.Meter

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// Setup creates a Provider from cfg and installs it as the global tracer
// provider. A disabled config yields a no-op provider.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled || os.Getenv("OTEL_SDK_DISABLED") == "true" {
		return NewNoop(), nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
		if cfg.ServiceName == "" {
			cfg.ServiceName = "storefront"
		}
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
		attribute.String("storefront.exporter", cfg.Exporter),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewWithTracerProvider(tp), nil
}

// NewWithTracerProvider builds a Provider around an existing SDK tracer
// provider without touching the globals.
func NewWithTracerProvider(tp *sdktrace.TracerProvider) *Provider {
	p := &Provider{
		TraceProvider: tp,
		Tracer:        tp.Tracer(instrumentationName),
	}
	p.initMetrics(otel.GetMeterProvider().Meter(instrumentationName))
	return p
}

// NewNoop returns a Provider that records nothing.
func NewNoop() *Provider {
	p := &Provider{Tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
	p.initMetrics(otel.GetMeterProvider().Meter(instrumentationName))
	return p
}

func (p *Provider) initMetrics(meter metric.Meter) {
	p.Meter = meter

	// Instrument creation only fails on invalid names; the nil checks in
	// RecordCall cover that case.
	p.calls, _ = meter.Int64Counter(
		"storefront.api.calls",
		metric.WithDescription("Backend API calls by operation and outcome"),
	)
	p.duration, _ = meter.Float64Histogram(
		"storefront.api.duration",
		metric.WithDescription("Backend API call duration"),
		metric.WithUnit("s"),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("otlp exporter requires an endpoint")
		}
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// StartSpan starts a client span
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// RecordCall counts one backend call. status is the HTTP status, 0 when the
// request never got a response.
func (p *Provider) RecordCall(ctx context.Context, operation string, status int, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("http.status_code", status),
		attribute.String("outcome", outcome),
	)
	if p.calls != nil {
		p.calls.Add(ctx, 1, attrs)
	}
	if p.duration != nil {
		p.duration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.TraceProvider != nil {
		return p.TraceProvider.Shutdown(ctx)
	}
	return nil
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
