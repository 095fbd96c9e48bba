package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notifyengine/internal/api"
	"notifyengine/internal/app"
	"notifyengine/internal/config"
	"notifyengine/internal/httpserver"
	"notifyengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		components.RunMirror(ctx)
	}()

	// Handlers
	ruleHandler := api.NewRuleHandler(components.Catalog, log)
	adminHandler := api.NewAdminHandler(
		components.Retry,
		components.Notifications,
		components.Adapter,
		components.Scheduler,
		log,
	)
	notificationHandler := api.NewNotificationHandler(components.History, log)

	router := httpserver.NewRouter(
		ruleHandler,
		adminHandler,
		notificationHandler,
		cfg.JWT.Secret,
		components.ReadinessChecks()...,
	)
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("Starting API server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the mirror last so events from in-flight requests are flushed.
	cancel()
	<-mirrorDone
	log.Info("API server stopped")
}
