package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is what the API client and controller need from OpenTelemetry
type Telemetry interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordCall(ctx context.Context, operation string, status int, duration time.Duration, err error)
	Shutdown(ctx context.Context) error
}
