package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter creates the chi router and registers the API handlers.
func NewRouter(h *Handlers, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uptime", func(r chi.Router) {
			r.Get("/stats", h.UptimeStats)
			r.Get("/heartbeats", h.Heartbeats)
			r.Get("/status", h.SchedulerStatus)
			r.Post("/check-all", h.CheckAll)
			r.Post("/restart", h.Restart)
			r.Get("/domains/{id}/history", h.History)
			r.Post("/domains/{id}/check", h.CheckDomain)
		})

		r.Post("/domains", h.CreateDomain)
		r.Get("/domains", h.ListDomains)

		r.Post("/webhooks", h.CreateWebhook)
		r.Get("/webhooks/{id}/deliveries", h.ListDeliveries)
	})

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
