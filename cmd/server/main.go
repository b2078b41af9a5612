package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-video/pkg/simplevideo/api"
	"github.com/tendant/simple-video/pkg/simplevideo/config"
)

func main() {
	cfg, err := config.Load(config.WithDotEnv(""))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, cleanup, err := cfg.Build(ctx, logger)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var opts []api.HandlerOption
	opts = append(opts, api.WithHandlerLogger(logger))
	if comps.Verifier != nil {
		opts = append(opts, api.WithVerifier(comps.Verifier))
	}
	if cfg.EventsSecret != "" {
		opts = append(opts, api.WithEventsSecret(cfg.EventsSecret))
	} else if cfg.IsProduction() {
		logger.Warn("EVENTS_SECRET is not set, storage batches on /events are unauthenticated")
	}
	handler := api.NewHandler(comps.Service, opts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Routes())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("simple-video server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"default_bucket", comps.DefaultBucket,
			"buckets", len(comps.BlobStores),
			"auth", comps.Verifier != nil,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exiting")
}
