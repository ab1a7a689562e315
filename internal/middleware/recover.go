package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/R3E-Network/agentchat/internal/errors"
	"github.com/R3E-Network/agentchat/internal/httputil"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

// Recover turns a handler panic into a 500 response.
func Recover(log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithContext(r.Context()).
					WithField("panic", rec).
					WithField("stack", string(debug.Stack())).
					Error("handler panicked")
				if !rw.written {
					httputil.WriteError(rw, errors.Internal("Internal server error", nil))
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
