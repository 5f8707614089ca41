package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"vcrelay/internal/correlation"
	issuerhandler "vcrelay/internal/issuer/handler"
	issuerservice "vcrelay/internal/issuer/service"
	"vcrelay/internal/platform/cache"
	"vcrelay/internal/platform/config"
	"vcrelay/internal/platform/health"
	"vcrelay/internal/platform/logger"
	"vcrelay/internal/platform/metrics"
	"vcrelay/internal/requests"
	"vcrelay/internal/tracing"
	httptransport "vcrelay/internal/transport/http"
	"vcrelay/internal/vcclient"
	verifierhandler "vcrelay/internal/verifier/handler"
	verifierservice "vcrelay/internal/verifier/service"
	"vcrelay/pkg/secrets"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if cfg.APIEndpoint == "" {
		log.Error("VC_API_ENDPOINT is required")
		os.Exit(1)
	}

	callbackKey := cfg.CallbackKey
	if callbackKey == "" {
		generated, err := secrets.Generate()
		if err != nil {
			log.Error("could not generate callback api key", "error", err)
			os.Exit(1)
		}
		callbackKey = generated
		log.Info("generated per-boot callback api key")
	}

	log.Info("initializing vcrelay",
		"addr", cfg.Addr,
		"api_endpoint", cfg.APIEndpoint,
		"cache_ttl", cfg.CacheTTL,
	)

	m := metrics.New()

	var tracer tracing.Tracer = tracing.NewNoop()
	if cfg.Tracing == "otel" {
		tracer = tracing.NewOTel()
	}

	store := cache.New()
	defer store.Close()

	api := vcclient.New(cfg.APIEndpoint, cfg.APIKey, log,
		vcclient.WithTimeout(cfg.ExternalTimeout),
		vcclient.WithTracer(tracer),
		vcclient.WithMetrics(m),
	)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.ExternalTimeout)
	loader := requests.NewLoader(api, store, cfg.ClientName, log)
	templates, err := loader.Load(loadCtx, cfg.IssuanceRequestFile, cfg.PresentationRequestFile)
	cancelLoad()
	if err != nil {
		log.Error("could not load request templates", "error", err)
		os.Exit(1)
	}

	issuanceCorrelations := correlation.NewService("issuance",
		"QR Code is scanned. Waiting for issuance to complete.",
		store, cfg.CacheTTL, log,
		correlation.WithTracer(tracer),
		correlation.WithMetrics(m),
	)
	presentationCorrelations := correlation.NewService("presentation",
		"QR Code is scanned. Waiting for validation...",
		store, cfg.CacheTTL, log,
		correlation.WithTerminalCode(vcclient.CodePresentationVerified),
		correlation.WithTracer(tracer),
		correlation.WithMetrics(m),
	)

	issuerSvc, err := issuerservice.New(api, issuanceCorrelations, templates, callbackKey, log,
		issuerservice.WithMetrics(m))
	if err != nil {
		log.Error("could not build issuer service", "error", err)
		os.Exit(1)
	}
	verifierSvc, err := verifierservice.New(api, presentationCorrelations, templates, callbackKey, log,
		verifierservice.WithMetrics(m))
	if err != nil {
		log.Error("could not build verifier service", "error", err)
		os.Exit(1)
	}

	healthHandler := health.New()
	healthHandler.RegisterCheck("correlation_store", func() error {
		store.Len()
		return nil
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Issuer:         issuerhandler.New(issuerSvc, cfg.PublicBaseURL, log),
		Verifier:       verifierhandler.New(verifierSvc, cfg.PublicBaseURL, log),
		Health:         healthHandler,
		Logger:         log,
		RequestTimeout: cfg.ExternalTimeout + 5*time.Second,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
