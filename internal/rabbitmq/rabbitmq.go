package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
)

// ErrChannelUnavailable is returned when no open channel exists for an operation
var ErrChannelUnavailable = errors.New("RabbitMQ channel is not initialized or closed")

// Connection manages RabbitMQ connection and channel with automatic recovery
type Connection struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	config       *config.RabbitMQConfig
	name         string
	logger       *zap.Logger
	stopChan     chan struct{}
	mu           sync.RWMutex
	reconnecting bool
	reconnectMu  sync.Mutex
	declared     []string
}

// NewConnection creates a new Connection instance. name is reported to the
// broker as the connection name.
func NewConnection(rabbitMQConfig *config.RabbitMQConfig, name string, logger *zap.Logger) *Connection {
	return &Connection{
		config:   rabbitMQConfig,
		name:     name,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the initial connection, trying a bounded number of times
// with a fixed delay, then starts monitoring for reconnection. The broker is
// mandatory: an error here is meant to stop the process.
func (c *Connection) Connect() error {
	maxAttempts := c.config.ConnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.logger.Info("Attempting initial connection to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
		)

		lastErr = c.connect()
		if lastErr == nil {
			c.logger.Info("Initial connection to RabbitMQ established",
				zap.Int("attempt", attempt),
			)
			go c.monitorConnection()
			return nil
		}

		if attempt < maxAttempts {
			c.logger.Warn("RabbitMQ not ready, retrying",
				zap.Error(lastErr),
				zap.Int("attempt", attempt),
				zap.Duration("delay", c.config.ConnectDelay),
			)
			select {
			case <-c.stopChan:
				return fmt.Errorf("connection closed while connecting: %w", lastErr)
			case <-time.After(c.config.ConnectDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxAttempts, lastErr)
}

// connect performs the actual connection logic
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error

	// Close existing connection if any
	if c.channel != nil && !c.channel.IsClosed() {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	// Heartbeat: 10 seconds (helps detect dead connections quickly)
	amqpConfig := amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": c.name,
		},
	}

	c.conn, err = amqp.DialConfig(c.config.ConnectionURL(), amqpConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Queues declared before a reconnect must exist again on the new channel
	for _, queue := range c.declared {
		if err := declareQueue(c.channel, queue); err != nil {
			c.channel.Close()
			c.conn.Close()
			return err
		}
	}

	c.logger.Info("Successfully connected to RabbitMQ",
		zap.String("host", c.config.Host),
		zap.String("vhost", c.config.VHost),
		zap.Duration("heartbeat", amqpConfig.Heartbeat),
	)
	return nil
}

// monitorConnection monitors the connection and automatically reconnects on failure
func (c *Connection) monitorConnection() {
	for {
		c.mu.RLock()
		if c.conn == nil || c.channel == nil {
			c.mu.RUnlock()
			c.logger.Error("Connection or channel not initialized, cannot monitor connection")
			return
		}

		connClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))
		channelClose := c.channel.NotifyClose(make(chan *amqp.Error, 1))
		c.mu.RUnlock()

		select {
		case <-c.stopChan:
			return
		case err := <-connClose:
			if err == nil {
				// Graceful close
				return
			}
			c.logger.Error("RabbitMQ connection closed, attempting to reconnect",
				zap.Error(err),
				zap.String("reason", err.Reason),
			)
			c.reconnect()
		case err := <-channelClose:
			if err == nil {
				return
			}
			c.logger.Error("RabbitMQ channel closed, attempting to reconnect",
				zap.Error(err),
				zap.String("reason", err.Reason),
			)
			c.reconnect()
		}
	}
}

// reconnect attempts to reconnect with exponential backoff until stopped
func (c *Connection) reconnect() {
	c.reconnectMu.Lock()
	if c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	backoff := time.Second
	maxBackoff := 30 * time.Second
	attempt := 0

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		attempt++
		c.logger.Info("Attempting to reconnect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)

		if err := c.connect(); err != nil {
			c.logger.Warn("Failed to reconnect to RabbitMQ, retrying...",
				zap.Error(err),
				zap.Int("attempt", attempt),
			)
			select {
			case <-c.stopChan:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Successfully reconnected to RabbitMQ",
			zap.Int("attempt", attempt),
		)
		return
	}
}

// Close closes the RabbitMQ connection and channel and stops reconnection monitoring
func (c *Connection) Close() {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Info("RabbitMQ connection closed")
	}
}

// declareQueue declares a durable, non-exclusive queue. Publisher and consumer
// both go through here so their declarations never diverge.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// DeclareQueue declares a durable queue and remembers it so it is re-declared
// after a reconnect. Declaring an existing queue with the same arguments is a no-op.
func (c *Connection) DeclareQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() {
		return ErrChannelUnavailable
	}
	if err := declareQueue(c.channel, name); err != nil {
		return err
	}

	for _, q := range c.declared {
		if q == name {
			return nil
		}
	}
	c.declared = append(c.declared, name)
	return nil
}

// PublishMessage publishes a persistent message, retrying briefly while the
// connection is being recovered.
func (c *Connection) PublishMessage(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	maxRetries := 3
	retryDelay := 100 * time.Millisecond

	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled: %w", ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		c.mu.RLock()
		ch := c.channel
		conn := c.conn
		c.mu.RUnlock()

		if ch == nil || ch.IsClosed() || conn == nil || conn.IsClosed() {
			lastErr = ErrChannelUnavailable
			c.logger.Warn("RabbitMQ channel not available for publish, retrying...",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", maxRetries),
			)
			continue
		}

		err := ch.PublishWithContext(ctx,
			exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			msg,
		)
		if err == nil {
			return nil
		}

		lastErr = err
		// Only connection problems are worth retrying
		if !ch.IsClosed() && !conn.IsClosed() {
			break
		}
		c.logger.Warn("Publish failed due to connection issue, retrying...",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
		)
	}

	return fmt.Errorf("failed to publish message to %q: %w", routingKey, lastErr)
}

// ConsumeMessages registers a manual-ack consumer on a queue
func (c *Connection) ConsumeMessages(queue, consumer string) (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil, ErrChannelUnavailable
	}

	messages, err := ch.Consume(
		queue,
		consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	return messages, nil
}

// CancelConsumer stops deliveries to the named consumer
func (c *Connection) CancelConsumer(consumer string) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil
	}
	return ch.Cancel(consumer, false)
}

// SetQoS sets the prefetch count for the channel
func (c *Connection) SetQoS(prefetchCount int) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrChannelUnavailable
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// IsHealthy checks if the connection and channel are healthy
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}
