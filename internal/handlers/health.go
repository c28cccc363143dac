package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/marminbh/popup-pos/internal/database"
)

// BrokerHealth reports whether the broker connection is usable
type BrokerHealth interface {
	IsHealthy() bool
}

type HealthHandler struct {
	CheckDatabase func(ctx context.Context) error
	Broker        BrokerHealth
}

func NewHealthHandler(db *gorm.DB, broker BrokerHealth) *HealthHandler {
	return &HealthHandler{
		CheckDatabase: func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		},
		Broker: broker,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := h.CheckDatabase(ctx); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.Broker == nil || !h.Broker.IsHealthy() {
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	} else {
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
