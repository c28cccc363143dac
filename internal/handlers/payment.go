package handlers

import (
	"context"
	"math"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/loyalty"
	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/terminal"
)

const (
	messageSyncQueued   = "Payment processed. Loyalty sync will follow shortly."
	messageSyncDeferred = "Payment processed. Loyalty sync is delayed and will be retried."
)

// PaymentTerminal charges the customer on the card terminal
type PaymentTerminal interface {
	Pay(ctx context.Context, amount float64, currency string) (*terminal.PaymentResult, error)
}

// EventPublisher queues the loyalty event for the sync worker
type EventPublisher interface {
	Publish(ctx context.Context, email string, points int) error
}

// EventOutbox stores loyalty events that could not be published
type EventOutbox interface {
	Enqueue(ctx context.Context, email string, points int) (*models.PendingLoyaltyEvent, error)
}

// PaymentHandler handles POST /pay
type PaymentHandler struct {
	Terminal  PaymentTerminal
	Publisher EventPublisher
	Outbox    EventOutbox
	Logger    *zap.Logger
}

func NewPaymentHandler(terminal PaymentTerminal, publisher EventPublisher, outbox EventOutbox, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		Terminal:  terminal,
		Publisher: publisher,
		Outbox:    outbox,
		Logger:    logger,
	}
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

// maxPaymentAmount keeps the earned points within range at the highest rate
const maxPaymentAmount = math.MaxInt32

func validatePayment(req *models.PaymentRequest) string {
	switch {
	case math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0:
		return "amount must be a positive number"
	case req.Amount > maxPaymentAmount:
		return "amount is too large"
	case strings.TrimSpace(req.Currency) == "":
		return "currency is required"
	case strings.TrimSpace(req.Email) == "":
		return "email is required"
	}
	return ""
}

// Pay charges the customer, converts the authorized amount into points and
// queues the loyalty update. The response never waits for the sync itself.
func (h *PaymentHandler) Pay(c *fiber.Ctx) error {
	var req models.PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if msg := validatePayment(&req); msg != "" {
		return detail(c, fiber.StatusBadRequest, msg)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))

	log := h.Logger.With(
		zap.String("email", req.Email),
		zap.Float64("amount", req.Amount),
		zap.String("currency", currency),
	)
	log.Info("Received payment request")

	ctx := c.UserContext()
	result, err := h.Terminal.Pay(ctx, req.Amount, currency)
	if err != nil {
		log.Error("Payment terminal request failed", zap.Error(err))
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}

	points, err := loyalty.CalculatePoints(result.AuthorizedAmount, result.Currency)
	if err != nil {
		log.Error("Terminal returned an unusable amount",
			zap.Float64("authorized_amount", result.AuthorizedAmount),
			zap.Error(err),
		)
		return detail(c, fiber.StatusInternalServerError, err.Error())
	}

	response := models.PaymentResponse{
		Status:             "success",
		EarnedUnikkoPoints: points,
		Message:            messageSyncQueued,
		LoyaltySync:        models.LoyaltySyncQueued,
	}

	if err := h.Publisher.Publish(ctx, req.Email, points); err != nil {
		// The customer has paid; keep the event and replay it later
		log.Warn("Failed to publish loyalty event, deferring to outbox", zap.Error(err))
		if _, outboxErr := h.Outbox.Enqueue(ctx, req.Email, points); outboxErr != nil {
			log.Error("Failed to store deferred loyalty event",
				zap.Error(outboxErr),
				zap.NamedError("publish_error", err),
			)
			return detail(c, fiber.StatusInternalServerError, "payment processed but loyalty sync could not be recorded: "+err.Error())
		}
		response.Message = messageSyncDeferred
		response.LoyaltySync = models.LoyaltySyncDeferred
	}

	log.Info("Payment processed",
		zap.String("transaction_id", result.TransactionID),
		zap.Float64("authorized_amount", result.AuthorizedAmount),
		zap.Int("earned_points", points),
		zap.String("loyalty_sync", response.LoyaltySync),
	)
	return c.JSON(response)
}
