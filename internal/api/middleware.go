package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger emits one line per completed request. Failures that
// reach the bridge (502) or the handler (500) log at error so bridge
// outages stand out in the warden log without a metrics layer.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logFn := slog.Info
		if ww.Status() >= http.StatusInternalServerError {
			logFn = slog.Error
		}
		logFn("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start).Round(10*time.Microsecond),
		)
	})
}
