// Package telemetry wires OpenTelemetry into the storefront client.
//
// Setup builds a tracer provider from Config (OTLP over gRPC, stdout, or no
// exporter at all) and registers it globally so otelhttp-instrumented
// transports pick it up. Every API call is wrapped in a span and counted on
// the storefront.api.calls counter.
//
// The correlation helpers carry a per-call request ID and the acting user ID
// through context.Context, inject them as X-Request-ID / X-Correlation-ID /
// X-User-ID headers and add them to log fields:
//
//	ctx = telemetry.WithRequestID(ctx)
//	telemetry.InjectCorrelationHeaders(ctx, req.Header)
//	log.Info("Calling backend", telemetry.EnrichLogFields(ctx, nil))
package telemetry
