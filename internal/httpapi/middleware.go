package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ezachrisen/ruleswp/internal/logger"
)

// RequestLogger attaches a request-scoped logger to the context and logs
// every completed request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		r = r.WithContext(logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context())))
		log := logger.FromContext(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Info for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(r.Context(), level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// WithLogger makes l the base logger of every request.
func WithLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		})
	}
}
