package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/directory"
	"github.com/marminbh/popup-pos/internal/logger"
	"github.com/marminbh/popup-pos/internal/loyalty"
	"github.com/marminbh/popup-pos/internal/repositories"
	"github.com/marminbh/popup-pos/internal/service"
	"github.com/marminbh/popup-pos/internal/worker"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL"), "popup-pos-consumer"); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadConsumer()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Fails after RABBITMQ_CONNECT_ATTEMPTS; the process must not run without a broker
	svc, err := service.New(context.Background(), cfg, "popup-pos-consumer", logger.Logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer svc.Close()

	syncer := loyalty.NewSyncer(
		directory.NewClient(&cfg.Directory, logger.Logger),
		svc.Locker(),
		logger.Logger,
	)

	w := worker.NewWorker(
		cfg,
		svc.RMQ,
		syncer,
		svc.RetryCounter(),
		repositories.NewPostgresSyncAttemptRepository(svc.DB),
		logger.Logger,
	)
	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start worker", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down consumer")
	if err := w.Stop(); err != nil {
		logger.Error("Error stopping worker", zap.Error(err))
	}
	logger.Info("Consumer stopped")
}
