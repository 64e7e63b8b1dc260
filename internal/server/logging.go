package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

type logFields struct {
	mu     sync.Mutex
	values map[string]string
}

// LoggingMiddleware logs the start and completion of every request.
// Completion is logged at warn level for 4xx and error level for 5xx
// responses, together with any fields added through AddLogField.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := &logFields{values: make(map[string]string)}
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			requestID := GetRequestID(r.Context())

			logger.Info("request started",
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.String("remote_addr", r.RemoteAddr),
			)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Int("bytes", wrapped.bytes),
				slog.Duration("duration", time.Since(start)),
			}

			fields.mu.Lock()
			for k, v := range fields.values {
				attrs = append(attrs, slog.String(k, v))
			}
			fields.mu.Unlock()

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				level = slog.LevelError
			case wrapped.statusCode >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Flush forwards to the underlying writer when it supports http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AddLogField attaches a key/value to the request log line emitted by
// LoggingMiddleware. Empty values are ignored. No-op without the middleware.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(*logFields); ok {
		fields.mu.Lock()
		fields.values[key] = value
		fields.mu.Unlock()
	}
}

// AddError attaches err to the request log line. No-op for a nil error.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
}
