package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouteRegistrar interface {
	RegisterRoutes(router chi.Router)
}

type RouterConfig struct {
	Handlers       []RouteRegistrar
	Metrics        *metrics.ServerMetrics
	MetricsHandler http.Handler
	DB             Pinger
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(hlog.NewHandler(log.Logger))
	router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		level := zerolog.InfoLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.ErrorLevel
		}
		hlog.FromRequest(r).WithLevel(level).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("url", r.URL.RequestURI()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	}))
	router.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware)
	}
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	router.Get("/health", healthHandler(cfg.DB))
	if cfg.MetricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	for _, h := range cfg.Handlers {
		h.RegisterRoutes(router)
	}

	return router
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
