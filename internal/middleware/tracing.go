package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/agentchat/pkg/logger"
)

// TracingMiddleware assigns a trace ID to every request and logs its outcome.
type TracingMiddleware struct {
	logger *logger.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(log *logger.Logger) *TracingMiddleware {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &TracingMiddleware{logger: log}
}

// Handler returns the tracing middleware handler
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}
		ctx := logger.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		entry := m.logger.WithContext(ctx).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rw.statusCode).
			WithField("duration", time.Since(start).String())
		if rw.statusCode >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Info("request handled")
	})
}
