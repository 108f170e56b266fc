package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewWithTracerProvider(tp), recorder
}

func TestSetupDisabledIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, p.TraceProvider)

	_, span := p.StartSpan(context.Background(), "storefront.products")
	assert.False(t, span.IsRecording())
	span.End()

	p.RecordCall(context.Background(), "products", 200, time.Millisecond, nil)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{
		Enabled:     true,
		ServiceName: "storefront-test",
		Exporter:    ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := p.StartSpan(context.Background(), "storefront.cart.get")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "storefront.cart.get")
	assert.Contains(t, buf.String(), "storefront-test")
}

func TestSetupRejectsBadExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)

	_, err = Setup(context.Background(), Config{Enabled: true, Exporter: ExporterOTLP})
	assert.Error(t, err, "otlp without endpoint")
}

func TestStartSpanAndEndSpan(t *testing.T) {
	p, recorder := newRecordingProvider(t)

	_, span := p.StartSpan(context.Background(), "storefront.orders.place", attribute.Int("cart.lines", 2))
	EndSpan(span, errors.New("Cart is empty"))

	_, ok := p.StartSpan(context.Background(), "storefront.orders.list")
	EndSpan(ok, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "storefront.orders.place", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "Cart is empty", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("cart.lines", 2))
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.True(t, strings.Contains(sampler(0.25).Description(), "TraceIDRatioBased"))
}

func TestCorrelationContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithCorrelationID(ctx)
	correlationID := GetCorrelationID(ctx)
	require.NotEmpty(t, correlationID)
	assert.Equal(t, correlationID, GetCorrelationID(WithCorrelationID(ctx)), "existing ID is kept")

	first := GetRequestID(WithRequestID(ctx))
	second := GetRequestID(WithRequestID(ctx))
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	assert.Equal(t, ctx, WithUserID(ctx, ""))
	ctx = WithUserID(WithRequestID(ctx), "u-1")

	headers := http.Header{}
	InjectCorrelationHeaders(ctx, headers)
	assert.Equal(t, correlationID, headers.Get(HeaderCorrelationID))
	assert.Equal(t, GetRequestID(ctx), headers.Get(HeaderRequestID))
	assert.Equal(t, "u-1", headers.Get(HeaderUserID))

	fields := EnrichLogFields(ctx, map[string]interface{}{"op": "cart.get"})
	assert.Equal(t, "cart.get", fields["op"])
	assert.Equal(t, "u-1", fields["user_id"])
	assert.Equal(t, correlationID, fields["correlation_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestEnrichLogFieldsWithSpan(t *testing.T) {
	p, _ := newRecordingProvider(t)
	ctx, span := p.StartSpan(context.Background(), "op")
	defer span.End()

	fields := EnrichLogFields(ctx, nil)
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestCorrelationMiddleware(t *testing.T) {
	var seen string
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, rec.Header().Get(HeaderCorrelationID))
}

func TestTracedHTTPClientPropagatesContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p, _ := newRecordingProvider(t)
	ctx, span := p.StartSpan(context.Background(), "storefront.products")
	defer span.End()

	client := NewTracedHTTPClient(nil, 2*time.Second)
	assert.Equal(t, 2*time.Second, client.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/products", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
