package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/di"
	"classifieds-messaging/backend/pkg/health"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/observability"
	"classifieds-messaging/backend/pkg/router"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting messaging service", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observability.SetupMetrics(cfg.Observability.ServiceName, nil)
	if err != nil {
		log.LogError(err, "Failed to set up metrics")
		os.Exit(1)
	}
	var shutdownTracing observability.ShutdownFunc
	if cfg.Observability.TracingEnabled {
		shutdownTracing, err = observability.SetupTracing(cfg.Observability.ServiceName, os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
			os.Exit(1)
		}
	}

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Health.Start(ctx)

	r := router.New(container)
	if err := r.SetupRoutes(); err != nil {
		log.LogError(err, "Failed to set up routes")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	if port := cfg.Observability.GRPCHealthPort; port != "" {
		grpcSrv := health.NewGRPCServer(container.Health, cfg.Observability.ServiceName)
		go func() {
			log.Info("gRPC health server starting", "port", port)
			if err := health.ServeGRPC(ctx, grpcSrv, ":"+port); err != nil {
				log.LogError(err, "gRPC health server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	r.Close()
	container.Close()
	if err := observability.Shutdown(shutdownCtx, shutdownTracing, shutdownMetrics); err != nil {
		log.LogError(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
