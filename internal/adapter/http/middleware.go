// Package http is the host bridge: a chi router exposing the session, the
// stateless analysis operations, the event WebSocket and the metrics scrape.
package http

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/uvalang/uvalens/internal/logger"
	"github.com/uvalang/uvalens/internal/middleware"
)

// CORS admits a browser-based host served from origin. With an empty
// origin no CORS headers are sent.
func CORS(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.New(cors.Options{
		AllowedOrigins:       []string{origin},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:       []string{"Content-Type", middleware.HeaderRequestID},
		ExposedHeaders:       []string{middleware.HeaderRequestID},
		OptionsSuccessStatus: http.StatusNoContent,
	}).Handler
}

// Logger logs each request once it completes. Server errors are logged at
// warn, everything else at debug since hosts poll frequently.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", logger.RequestID(r.Context()),
		)
	})
}
