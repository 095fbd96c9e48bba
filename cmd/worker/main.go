package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"notifyengine/internal/app"
	"notifyengine/internal/config"
	"notifyengine/internal/httpserver"
	"notifyengine/pkg/logger"
	"notifyengine/pkg/mq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting notification worker...",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("push", cfg.Push.Driver),
		zap.Duration("poll_interval", cfg.Dispatcher.Interval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	var mirrorDone sync.WaitGroup
	mirrorDone.Add(1)
	go func() {
		defer mirrorDone.Done()
		components.RunMirror(mirrorCtx)
	}()

	transport, err := components.Transport()
	if err != nil {
		log.Fatal("Failed to init push transport", zap.Error(err))
	}
	dispatcher := components.Dispatcher(transport)

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Start(ctx)
	}()

	housekeeper, err := components.Housekeeping(dispatcher.Sweep)
	if err != nil {
		log.Fatal("Failed to schedule housekeeping", zap.Error(err))
	}
	housekeeper.Start()

	var consumers []*mq.Consumer
	if cfg.Consumers.Enabled {
		consumers, err = components.StartConsumers(ctx)
		if err != nil {
			log.Fatal("Failed to start trigger consumers", zap.Error(err))
		}
		log.Info("Trigger consumers started", zap.Int("count", len(consumers)))
	}

	// HTTP Server (for health checks)
	router := httpserver.NewHealthRouter(components.ReadinessChecks()...)
	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router.Engine,
	}
	go func() {
		log.Info("Health server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("Notification worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification worker gracefully...")

	cancel()
	for _, consumer := range consumers {
		consumer.Close()
	}
	housekeeper.Stop()
	workers.Wait()

	stopMirror()
	mirrorDone.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Notification worker shutdown complete")
}
