package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/storywall/api-gateway/internal/httpx"
)

// RequestIDMiddleware assigns a fresh correlation ID to each request.
// The ID is stored in the context, echoed back to the client as the
// X-Request-ID response header, and forwarded to backends by the proxy
// rules and the health checker.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctx := httpx.WithRequestID(r.Context(), requestID)
		w.Header().Set(httpx.RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
