package httpx

import (
	"context"
	"net/http"
)

// RequestIDHeader is the header the gateway uses to propagate correlation
// IDs to clients and upstream services.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID returns a context carrying the correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID retrieves the correlation ID from context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// SetRequestIDHeader copies the context's correlation ID onto an outbound
// request, if one is present.
func SetRequestIDHeader(ctx context.Context, h http.Header) {
	if id := RequestID(ctx); id != "" {
		h.Set(RequestIDHeader, id)
	}
}
