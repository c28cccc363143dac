package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/cache"
	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/utils"
)

// ErrPoisonMessage marks a message that cannot succeed no matter how often it is retried
var ErrPoisonMessage = errors.New("poison message")

// errMalformed marks payloads that could not be decoded at all
var errMalformed = errors.New("malformed payload")

// Poison wraps err so the processor dead-letters the message without retrying
func Poison(err error) error {
	return fmt.Errorf("%w: %w", ErrPoisonMessage, err)
}

// Malformed wraps a decode error as a poison message
func Malformed(err error) error {
	return Poison(fmt.Errorf("%w: %w", errMalformed, err))
}

// EventHandler is implemented by workers to handle one message body
type EventHandler interface {
	HandleEvent(ctx context.Context, messageID string, body []byte) error
}

// Publisher sends dead letters to the broker
type Publisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

type Outcome int

const (
	Acked Outcome = iota
	Requeued
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Requeued:
		return "requeued"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Result describes what happened to one delivery
type Result struct {
	MessageID string
	Outcome   Outcome
	Attempts  int
	Err       error
}

// Processor acks a message only after its handler succeeds. Failures are
// requeued until MaxAttempts, then routed to the dead-letter queue.
type Processor struct {
	Queue           string
	DeadLetterQueue string
	MaxAttempts     int
	RetryDelay      time.Duration
	Retries         cache.RetryCounter
	DeadLetters     Publisher
	Handler         EventHandler
	Logger          *zap.Logger
}

// MessageID returns the broker message id, or one derived from the body
// when the publisher did not set it.
func MessageID(msg amqp.Delivery) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	return utils.DeriveMessageID(msg.Body)
}

// ProcessMessage handles a single delivery and settles it with the broker
func (p *Processor) ProcessMessage(ctx context.Context, msg amqp.Delivery) Result {
	messageID := MessageID(msg)
	log := p.Logger.With(
		zap.String("queue", p.Queue),
		zap.String("message_id", messageID),
		zap.Uint64("delivery_tag", msg.DeliveryTag),
	)
	log.Info("Received message from queue", zap.Bool("redelivered", msg.Redelivered))

	err := p.Handler.HandleEvent(ctx, messageID, msg.Body)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			// The channel is gone; the broker redelivers the message
			log.Error("Failed to ack message", zap.Error(err))
		}
		if err := p.Retries.Reset(ctx, messageID); err != nil {
			log.Warn("Failed to reset retry counter", zap.Error(err))
		}
		log.Info("Message processed successfully")
		return Result{MessageID: messageID, Outcome: Acked}
	}

	if errors.Is(err, ErrPoisonMessage) {
		failureType := models.FailureTypeInvalid
		if errors.Is(err, errMalformed) {
			failureType = models.FailureTypeMalformed
		}
		log.Error("Poison message, routing to dead-letter queue", zap.Error(err))
		return p.deadLetter(ctx, log, msg, messageID, 1, failureType, err)
	}

	attempts, countErr := p.Retries.Increment(ctx, messageID)
	if countErr != nil {
		log.Error("Failed to count retry, leaving redelivery to the broker",
			zap.Error(countErr),
			zap.NamedError("handler_error", err),
		)
		p.requeue(ctx, log, msg)
		return Result{MessageID: messageID, Outcome: Requeued, Err: err}
	}

	if attempts >= p.MaxAttempts {
		log.Error("Message failed too many times, routing to dead-letter queue",
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		result := p.deadLetter(ctx, log, msg, messageID, attempts, models.FailureTypeExhausted, err)
		if result.Outcome == DeadLettered {
			if err := p.Retries.Reset(ctx, messageID); err != nil {
				log.Warn("Failed to reset retry counter", zap.Error(err))
			}
		}
		return result
	}

	log.Warn("Failed to process message, requeueing",
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", p.MaxAttempts),
		zap.Error(err),
	)
	p.requeue(ctx, log, msg)
	return Result{MessageID: messageID, Outcome: Requeued, Attempts: attempts, Err: err}
}

// requeue waits RetryDelay and returns the message to the queue
func (p *Processor) requeue(ctx context.Context, log *zap.Logger, msg amqp.Delivery) {
	if p.RetryDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(p.RetryDelay):
		}
	}
	if err := msg.Nack(false, true); err != nil {
		log.Error("Failed to nack message", zap.Error(err))
	}
}

func (p *Processor) deadLetter(
	ctx context.Context,
	log *zap.Logger,
	msg amqp.Delivery,
	messageID string,
	attempts int,
	failureType string,
	cause error,
) Result {
	letter := models.DeadLetter{
		MessageID:       messageID,
		Queue:           p.Queue,
		OriginalMessage: string(msg.Body),
		Attempts:        attempts,
		FailureType:     failureType,
		LastError:       cause.Error(),
		FailedAt:        time.Now().UTC(),
	}

	body, err := json.Marshal(letter)
	if err == nil {
		err = p.DeadLetters.PublishMessage(ctx, "", p.DeadLetterQueue, amqp.Publishing{
			MessageId: messageID,
			Headers: amqp.Table{
				"x-failure-type": failureType,
				"x-attempts":     int32(attempts),
				"x-source-queue": p.Queue,
			},
			Body: body,
		})
	}
	if err != nil {
		// Keep the message rather than lose it
		log.Error("Failed to publish dead letter, requeueing", zap.Error(err))
		p.requeue(ctx, log, msg)
		return Result{MessageID: messageID, Outcome: Requeued, Attempts: attempts, Err: cause}
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
	log.Warn("Message moved to dead-letter queue",
		zap.String("dead_letter_queue", p.DeadLetterQueue),
		zap.String("failure_type", failureType),
	)
	return Result{MessageID: messageID, Outcome: DeadLettered, Attempts: attempts, Err: cause}
}
