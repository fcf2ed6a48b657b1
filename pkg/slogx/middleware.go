package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDFunc produces a request id for each request.
type RequestIDFunc func() string

// HTTPMiddleware logs one line per request and attaches a contextual logger
// carrying req_id, method and path to the request context. The request id is
// echoed back in the X-Request-ID response header.
func HTTPMiddleware(base *slog.Logger, newID RequestIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := newID()
			logger := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			rw.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(rw, r.WithContext(WithContext(r.Context(), logger)))

			logger.Info("http_request",
				"status", rw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
