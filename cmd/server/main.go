package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/handlers"
	"github.com/marminbh/popup-pos/internal/logger"
	"github.com/marminbh/popup-pos/internal/outbox"
	"github.com/marminbh/popup-pos/internal/publisher"
	"github.com/marminbh/popup-pos/internal/repositories"
	"github.com/marminbh/popup-pos/internal/routes"
	"github.com/marminbh/popup-pos/internal/service"
	"github.com/marminbh/popup-pos/internal/terminal"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL"), "popup-pos-server"); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	svc, err := service.New(context.Background(), cfg, "popup-pos-server", logger.Logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer svc.Close()

	pub := publisher.NewPublisher(svc.RMQ, cfg.RabbitMQ.Queue, logger.Logger)
	replayer := outbox.NewReplayer(
		&cfg.Outbox,
		repositories.NewPostgresPendingEventRepository(svc.DB),
		pub,
		logger.Logger,
	)
	replayer.Start()
	defer replayer.Stop()

	paymentHandler := handlers.NewPaymentHandler(
		terminal.NewClient(&cfg.Terminal, logger.Logger),
		pub,
		replayer,
		logger.Logger,
	)
	healthHandler := handlers.NewHealthHandler(svc.DB, svc.RMQ)
	attemptsHandler := handlers.NewAttemptsHandler(
		repositories.NewPostgresSyncAttemptRepository(svc.DB),
		logger.Logger,
	)

	app := fiber.New(fiber.Config{
		AppName:      "Popup POS",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.SetupRoutes(app, paymentHandler, healthHandler, attemptsHandler)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}
