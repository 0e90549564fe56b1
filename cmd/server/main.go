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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"infinite-experiment/tourdesk/internal/api"
	"infinite-experiment/tourdesk/internal/config"
	"infinite-experiment/tourdesk/internal/jobs"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/metrics"
	"infinite-experiment/tourdesk/internal/routes"
	"infinite-experiment/tourdesk/internal/workers"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// Initialize structured logging
	if err := logging.Init(cfg.AppEnv); err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("Tourdesk starting up",
		"environment", cfg.AppEnv,
		"change_stream", cfg.ChangeStream,
		"timestamp", time.Now().Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsReg := metrics.NewMetricsRegistry(prometheus.DefaultRegisterer)

	deps, err := api.InitDependencies(ctx, cfg, metricsReg)
	if err != nil {
		logging.Fatal("Failed to initialize dependencies", "error", err.Error())
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logging.Warn("Failed to close dependencies", "error", err.Error())
		}
	}()

	// Setup workers and jobs first
	var streams workers.StreamLengther
	if sl, ok := deps.Stream.(workers.StreamLengther); ok {
		streams = sl
	}
	workersContainer := workers.InitWorkers(ctx, deps.Services.Workspace, streams, deps.Limiter, time.Minute)
	deps.Resync = jobs.InitializeJobs(ctx, deps.Services.Workspace, deps.Repo.SyncHistory, metricsReg, cfg.ResyncInterval)

	upSince := time.Now()
	router := routes.RegisterRoutes(deps, cfg.CORSOrigins, upSince)

	// Setup metrics endpoint outside of Chi router
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router) // Mount Chi router at root
	logging.Info("Prometheus metrics endpoint registered at /metrics")

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Server starting", "port", cfg.Port, "environment", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown incomplete", "error", err.Error())
	}
	workersContainer.Wait()
	logging.Info("Shutdown complete")
}
