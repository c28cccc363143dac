package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/models"
)

var ErrInvalidEvent = errors.New("invalid loyalty event")

// Broker is the subset of the RabbitMQ connection the publisher needs
type Broker interface {
	DeclareQueue(name string) error
	PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Publisher sends customer_update events to the loyalty queue
type Publisher struct {
	broker   Broker
	queue    string
	logger   *zap.Logger
	mu       sync.Mutex
	declared bool
}

func NewPublisher(broker Broker, queue string, logger *zap.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		queue:  queue,
		logger: logger,
	}
}

func (p *Publisher) ensureQueue() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declared {
		return nil
	}
	if err := p.broker.DeclareQueue(p.queue); err != nil {
		return err
	}
	p.declared = true
	return nil
}

// Publish sends a persistent loyalty event through the default exchange.
// It returns once the broker accepted the message; the sync happens later.
func (p *Publisher) Publish(ctx context.Context, email string, points int) error {
	event := models.NewLoyaltyEvent(email, points)
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if err := p.ensureQueue(); err != nil {
		return fmt.Errorf("failed to declare loyalty queue: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal loyalty event: %w", err)
	}

	messageID := uuid.NewString()
	err = p.broker.PublishMessage(ctx, "", p.queue, amqp.Publishing{
		MessageId: messageID,
		Type:      models.EventCustomerUpdate,
		Body:      body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish loyalty event: %w", err)
	}

	p.logger.Info("Published loyalty event",
		zap.String("message_id", messageID),
		zap.String("queue", p.queue),
		zap.String("email", email),
		zap.Int("points", points),
	)
	return nil
}
