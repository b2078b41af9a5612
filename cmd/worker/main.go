package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-video/pkg/simplevideo/config"
)

// The worker drains storage notifications from an SQS queue, for deployments
// where the bucket publishes to a queue instead of invoking the HTTP endpoint.
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

	consumer, err := cfg.NewQueueConsumer(ctx, comps.Service, logger)
	if err != nil {
		logger.Error("failed to build queue consumer", "error", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("simple-video worker starting", "queue_url", cfg.QueueURL, "default_bucket", comps.DefaultBucket)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker exiting")
}
