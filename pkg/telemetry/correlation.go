package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey type for context keys
type ContextKey string

const (
	// CorrelationIDKey groups every request issued by one user action
	CorrelationIDKey ContextKey = "correlation_id"
	// RequestIDKey identifies a single backend call
	RequestIDKey ContextKey = "request_id"
	// UserIDKey carries the acting user
	UserIDKey ContextKey = "user_id"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
	HeaderUserID        = "X-User-ID"
)

// WithCorrelationID stores a fresh correlation ID unless ctx already has one.
func WithCorrelationID(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, CorrelationIDKey, uuid.New().String())
}

// WithRequestID always stores a fresh request ID.
func WithRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, RequestIDKey, uuid.New().String())
}

// WithUserID stores the acting user. Empty IDs leave ctx unchanged.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetCorrelationID retrieves correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	return stringValue(ctx, CorrelationIDKey)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}

// InjectCorrelationHeaders injects correlation IDs into HTTP headers
func InjectCorrelationHeaders(ctx context.Context, headers http.Header) {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		headers.Set(HeaderCorrelationID, correlationID)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		headers.Set(HeaderRequestID, requestID)
	}
	if userID := GetUserID(ctx); userID != "" {
		headers.Set(HeaderUserID, userID)
	}
}

// CorrelationMiddleware is the server-side counterpart: it reads or
// generates the IDs, stores them in the request context and echoes them back.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, CorrelationIDKey, correlationID)

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, RequestIDKey, requestID)

		if userID := r.Header.Get(HeaderUserID); userID != "" {
			ctx = context.WithValue(ctx, UserIDKey, userID)
		}

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.String("correlation.id", correlationID),
				attribute.String("request.id", requestID),
			)
		}

		w.Header().Set(HeaderCorrelationID, correlationID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EnrichLogFields adds correlation IDs to log fields
func EnrichLogFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	if userID := GetUserID(ctx); userID != "" {
		fields["user_id"] = userID
	}

	// Add trace context if available
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		spanCtx := span.SpanContext()
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
	}

	return fields
}
