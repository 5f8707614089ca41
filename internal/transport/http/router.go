// Package http assembles the relay's HTTP surface: the issuer and verifier
// APIs, health endpoints, and the Prometheus scrape target.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	issuerhandler "vcrelay/internal/issuer/handler"
	"vcrelay/internal/platform/health"
	"vcrelay/internal/platform/middleware"
	verifierhandler "vcrelay/internal/verifier/handler"
)

// RouterDeps carries the constructed handlers the router mounts.
type RouterDeps struct {
	Issuer   *issuerhandler.Handler
	Verifier *verifierhandler.Handler
	Health   *health.Handler
	Logger   *slog.Logger

	// RequestTimeout bounds inbound request handling. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	deps.Issuer.Register(r)
	deps.Verifier.Register(r)
	deps.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
