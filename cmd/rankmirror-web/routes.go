package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/allcookiesaccept/rankmirror"
)

// newRouter wires the read-only JSON API. HTTP metrics are registered on reg,
// which is also served at /metrics.
func newRouter(engine *rankmirror.Engine, reg *prometheus.Registry, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recovery(logger))
	r.Use(instrument(newHTTPMetrics(reg)))

	h := &handlers{engine: engine, logger: logger}

	r.Get("/healthz", h.handleHealth)
	r.Get("/snapshots", h.handleSnapshots)
	r.Get("/runs", h.handleRuns)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return r
}
