package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/repositories"
)

const (
	defaultAttemptLimit = 25
	maxAttemptLimit     = 100
)

// AttemptsHandler lists the loyalty sync audit log
type AttemptsHandler struct {
	Attempts repositories.SyncAttemptRepository
	Logger   *zap.Logger
}

func NewAttemptsHandler(attempts repositories.SyncAttemptRepository, logger *zap.Logger) *AttemptsHandler {
	return &AttemptsHandler{
		Attempts: attempts,
		Logger:   logger,
	}
}

type AttemptsResponse struct {
	Attempts []AttemptDTO `json:"attempts"`
	HasMore  bool         `json:"has_more"`
}

type AttemptDTO struct {
	ID           int64   `json:"id"`
	MessageID    string  `json:"message_id"`
	Email        string  `json:"email"`
	Points       int     `json:"unikko_points"`
	AttemptNo    int     `json:"attempt_no"`
	Status       string  `json:"status"`
	CustomerID   *string `json:"customer_id"`
	TotalPoints  *int    `json:"total_unikko_points"`
	LoyaltyLevel *string `json:"loyalty_level"`
	Error        *string `json:"error"`
	Timestamp    string  `json:"timestamp"` // UTC ISO 8601
}

// GetSyncAttempts handles GET /api/v1/sync-attempts
// Query parameters:
//   - email (optional): only attempts for this customer
//   - limit (optional, default 25, max 100)
//   - offset (optional, default 0)
func (h *AttemptsHandler) GetSyncAttempts(c *fiber.Ctx) error {
	limit := defaultAttemptLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return detail(c, fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(parsed, maxAttemptLimit)
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return detail(c, fiber.StatusBadRequest, "offset must be a non-negative integer")
		}
		offset = parsed
	}

	filter := repositories.AttemptFilter{
		Email:  c.Query("email"),
		Limit:  limit,
		Offset: offset,
	}
	attempts, hasMore, err := h.Attempts.List(c.UserContext(), filter)
	if err != nil {
		h.Logger.Error("Failed to query sync attempts",
			zap.String("email", filter.Email),
			zap.Error(err),
		)
		return detail(c, fiber.StatusInternalServerError, "failed to fetch sync attempts")
	}

	dtos := make([]AttemptDTO, 0, len(attempts))
	for _, a := range attempts {
		dtos = append(dtos, AttemptDTO{
			ID:           a.ID,
			MessageID:    a.MessageID,
			Email:        a.Email,
			Points:       a.Points,
			AttemptNo:    a.AttemptNo,
			Status:       a.Status,
			CustomerID:   a.CustomerID,
			TotalPoints:  a.TotalPoints,
			LoyaltyLevel: a.LoyaltyLevel,
			Error:        a.Error,
			Timestamp:    a.FinishedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(AttemptsResponse{Attempts: dtos, HasMore: hasMore})
}
