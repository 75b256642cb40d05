package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ropacal-forecast/internal/logger"
)

// RequestLogger logs one line per request through log. Server errors are
// logged at error level, everything else at debug.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			if status >= http.StatusInternalServerError {
				log.Errorf("🔴 %s %s -> %d in %s", r.Method, r.URL.Path, status, elapsed)
				return
			}
			log.Debugw("request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": elapsed.Milliseconds(),
				"request_id":  chimiddleware.GetReqID(r.Context()),
			})
		})
	}
}
