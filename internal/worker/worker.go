package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/cache"
	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/consumer"
	"github.com/marminbh/popup-pos/internal/loyalty"
	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/repositories"
)

// Broker is the subset of the RabbitMQ connection the worker needs
type Broker interface {
	DeclareQueue(name string) error
	SetQoS(prefetchCount int) error
	ConsumeMessages(queue, consumer string) (<-chan amqp.Delivery, error)
	CancelConsumer(consumer string) error
	PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	IsHealthy() bool
}

// Worker consumes loyalty events and merges them into customer records
type Worker struct {
	rabbitCfg   *config.RabbitMQConfig
	broker      Broker
	syncer      *loyalty.Syncer
	attempts    repositories.SyncAttemptRepository
	processor   *consumer.Processor
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool

	// restartDelay is how long to wait before re-registering after the
	// delivery channel closes
	restartDelay time.Duration
}

// NewWorker creates a new worker instance with dependencies. retries keeps
// the per-message failure count across redeliveries.
func NewWorker(
	cfg *config.Config,
	broker Broker,
	syncer *loyalty.Syncer,
	retries cache.RetryCounter,
	attempts repositories.SyncAttemptRepository,
	logger *zap.Logger,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		rabbitCfg:    &cfg.RabbitMQ,
		broker:       broker,
		syncer:       syncer,
		attempts:     attempts,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		consumerTag:  fmt.Sprintf("loyalty-worker-%d", time.Now().Unix()),
		restartDelay: 2 * time.Second,
	}
	w.processor = &consumer.Processor{
		Queue:           cfg.RabbitMQ.Queue,
		DeadLetterQueue: cfg.RabbitMQ.DeadLetterQueue,
		MaxAttempts:     cfg.Consumer.MaxDeliveryAttempts,
		RetryDelay:      cfg.Consumer.RetryDelay,
		Retries:         retries,
		DeadLetters:     broker,
		Handler:         w,
		Logger:          logger,
	}
	return w
}

// Start declares the queues and starts consuming messages
func (w *Worker) Start() error {
	if w.rabbitCfg.Queue == "" {
		return fmt.Errorf("loyalty queue is required")
	}
	if w.rabbitCfg.DeadLetterQueue == "" {
		return fmt.Errorf("dead-letter queue is required")
	}

	// Same durable declaration as the publisher, so either side may start first
	for _, queue := range []string{w.rabbitCfg.Queue, w.rabbitCfg.DeadLetterQueue} {
		if err := w.broker.DeclareQueue(queue); err != nil {
			return err
		}
	}

	if err := w.startConsuming(); err != nil {
		return err
	}

	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker started and consuming messages",
		zap.String("queue", w.rabbitCfg.Queue),
		zap.String("dead_letter_queue", w.rabbitCfg.DeadLetterQueue),
		zap.Int("prefetch_count", w.rabbitCfg.PrefetchCount),
		zap.String("consumer_tag", w.consumerTag),
	)
	return nil
}

func (w *Worker) startConsuming() error {
	// One unacknowledged message at a time keeps processing sequential
	if err := w.broker.SetQoS(w.rabbitCfg.PrefetchCount); err != nil {
		return err
	}

	messages, err := w.broker.ConsumeMessages(w.rabbitCfg.Queue, w.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", w.rabbitCfg.Queue, err)
	}

	w.logger.Info("Consumer registered successfully",
		zap.String("queue", w.rabbitCfg.Queue),
		zap.String("consumer_tag", w.consumerTag),
	)

	w.wg.Add(1)
	go w.processMessages(messages)
	return nil
}

// Stop cancels the consumer and waits for the message in flight to settle.
// The in-flight sync runs to completion; only the consume loop is cancelled.
func (w *Worker) Stop() error {
	w.logger.Info("Stopping worker", zap.String("consumer_tag", w.consumerTag))

	w.mu.Lock()
	w.started = false
	w.mu.Unlock()

	if err := w.broker.CancelConsumer(w.consumerTag); err != nil {
		w.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", w.consumerTag),
			zap.Error(err),
		)
	}
	w.cancel()
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return nil
}

func (w *Worker) isStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) processMessages(messages <-chan amqp.Delivery) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Worker context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				w.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("queue", w.rabbitCfg.Queue),
				)
				w.restartConsuming()
				return
			}
			w.handleDelivery(msg)
		}
	}
}

// restartConsuming keeps retrying until a new consumer is registered or the
// worker is stopped. The connection itself recovers in the rabbitmq package.
func (w *Worker) restartConsuming() {
	for w.isStarted() {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.restartDelay):
		}

		if !w.broker.IsHealthy() {
			w.logger.Debug("Connection not healthy yet, waiting...",
				zap.String("queue", w.rabbitCfg.Queue),
			)
			continue
		}

		if err := w.startConsuming(); err != nil {
			w.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("queue", w.rabbitCfg.Queue),
				zap.Error(err),
			)
			continue
		}

		w.logger.Info("Successfully restarted consumer after channel close",
			zap.String("queue", w.rabbitCfg.Queue),
		)
		return
	}
}

// handleDelivery processes one message on a context that Stop does not
// cancel, so a sync in progress finishes its read-modify-write. Failed
// deliveries get one audit row each, tagged with how the message was settled.
func (w *Worker) handleDelivery(msg amqp.Delivery) {
	startedAt := time.Now().UTC()
	result := w.processor.ProcessMessage(context.WithoutCancel(w.ctx), msg)

	var status string
	switch result.Outcome {
	case consumer.Requeued:
		status = models.SyncStatusFailed
	case consumer.DeadLettered:
		status = models.SyncStatusDeadLettered
	default:
		// Successful syncs are recorded by HandleEvent with the customer state
		return
	}

	// Best effort: the payload may not even decode
	var event models.LoyaltyEvent
	_ = json.Unmarshal(msg.Body, &event)

	entry := &models.SyncAttemptLog{
		MessageID:  result.MessageID,
		Email:      event.Email,
		Points:     event.Points,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	if result.Err != nil {
		errMsg := result.Err.Error()
		entry.Error = &errMsg
	}
	w.recordAttempt(entry)
}

// HandleEvent implements consumer.EventHandler
func (w *Worker) HandleEvent(ctx context.Context, messageID string, body []byte) error {
	var event models.LoyaltyEvent
	if err := json.Unmarshal(body, &event); err != nil {
		w.logger.Error("Failed to unmarshal loyalty event",
			zap.String("message_id", messageID),
			zap.Error(err),
			zap.ByteString("body", body),
		)
		return consumer.Malformed(fmt.Errorf("failed to unmarshal loyalty event: %w", err))
	}
	if err := event.Validate(); err != nil {
		return consumer.Poison(fmt.Errorf("invalid loyalty event: %w", err))
	}

	w.logger.Info("Processing loyalty event",
		zap.String("message_id", messageID),
		zap.String("email", event.Email),
		zap.Int("points", event.Points),
	)

	startedAt := time.Now().UTC()
	customer, err := w.syncer.Sync(ctx, event.Email, event.Points)
	if err != nil {
		var validationErr *loyalty.ValidationError
		if errors.As(err, &validationErr) {
			return consumer.Poison(err)
		}
		return err
	}

	w.recordAttempt(&models.SyncAttemptLog{
		MessageID:    messageID,
		Email:        event.Email,
		Points:       event.Points,
		Status:       models.SyncStatusSucceeded,
		CustomerID:   &customer.ID,
		TotalPoints:  &customer.TotalPoints,
		LoyaltyLevel: &customer.LoyaltyTier,
		StartedAt:    startedAt,
		FinishedAt:   time.Now().UTC(),
	})
	return nil
}

// recordAttempt writes the audit row. Failures are logged and never affect
// the ack decision.
func (w *Worker) recordAttempt(entry *models.SyncAttemptLog) {
	if w.attempts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.attempts.Record(ctx, entry); err != nil {
		w.logger.Warn("Failed to record sync attempt",
			zap.String("message_id", entry.MessageID),
			zap.String("status", entry.Status),
			zap.Error(err),
		)
	}
}
