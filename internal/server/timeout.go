package server

import (
	"context"
	"net/http"
	"time"
)

// DefaultTimeout bounds read-only endpoints.
const DefaultTimeout = 30 * time.Second

// TimeoutMiddleware gives the request context a deadline. Cancellation is
// cooperative: handlers must pass the context to blocking calls.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
