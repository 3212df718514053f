package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfotel "github.com/uvalang/uvalens/internal/adapter/otel"
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/middleware"
)

const requestTimeout = 30 * time.Second

// NewRouter builds the bridge router with its middleware stack.
func NewRouter(cfg config.Server, h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(CORS(cfg.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware("uvalens"))
	MountRoutes(r, h)
	return r
}

// MountRoutes registers the bridge routes on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		handler := cfotel.MetricsHandler()
		if handler == nil {
			writeError(w, http.StatusNotFound, "prometheus exporter not enabled")
			return
		}
		handler.ServeHTTP(w, r)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))

		r.Post("/documents", h.OpenDocument)
		r.Delete("/documents", h.CloseDocument)
		r.Post("/focus", h.Focus)

		r.Post("/analyze", h.Analyze)
		r.Post("/definition", h.Definition)
		r.Post("/tokens", h.Tokens)

		r.Post("/retry", h.Retry)
		r.Get("/status", h.Status)
	})
}
