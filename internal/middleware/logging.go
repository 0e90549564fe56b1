package middleware

import (
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/logging"
)

// Logging writes one structured line per completed request
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponse(w)
		next.ServeHTTP(wrapped, r)

		fields := []interface{}{
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"endpoint", routePattern(r),
			"path", r.URL.Path,
			"status_code", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			logging.Error("HTTP request completed", fields...)
		case wrapped.statusCode >= http.StatusBadRequest:
			logging.Warn("HTTP request completed", fields...)
		default:
			logging.Info("HTTP request completed", fields...)
		}
	})
}
