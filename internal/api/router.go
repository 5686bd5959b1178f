package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// SetupDataRouter serves the producer-facing ingestion endpoint.
func SetupDataRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	h.baseMiddleware(r)

	r.With(h.auth.Middleware).Post("/data", h.HandleDataIngest)
	r.Get("/healthz", h.HandleHealth)

	return r
}

// SetupUIRouter serves the dashboard API, the websocket stream and metrics.
func SetupUIRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	h.baseMiddleware(r)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/ws", h.HandleWebSocket)
	if h.recorder != nil {
		r.Handle("/metrics", h.recorder.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Get("/snapshot", h.HandleSnapshot)
		r.Get("/alerts", h.HandleAlerts)
		r.Get("/devices", h.HandleDevices)
		r.Get("/devices/{deviceID}", h.HandleDevice)
		r.Get("/devices/{deviceID}/history/{metric}", h.HandleHistory)
	})

	return r
}

func (h *APIHandler) baseMiddleware(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(h.logger))
	r.Use(hlog.AccessHandler(func(req *http.Request, status, size int, duration time.Duration) {
		level := zerolog.DebugLevel
		switch {
		case status >= 500:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}
		hlog.FromRequest(req).WithLevel(level).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("request_id", middleware.GetReqID(req.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	}))
	r.Use(middleware.Recoverer)
}
