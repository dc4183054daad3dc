package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueTypeQuorum makes RabbitMQ track redeliveries in the x-delivery-count header
const QueueTypeQuorum = "quorum"

// Config holds RabbitMQ connection configuration
type Config struct {
	URL                string // Takes precedence over the discrete fields when set
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueType          string // "quorum" or "classic"
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// ErrStaleDelivery is returned when acking a delivery whose channel has since
// been replaced. The broker requeues such deliveries by itself.
var ErrStaleDelivery = errors.New("delivery belongs to a closed channel")

// Client represents a RabbitMQ client
type Client struct {
	config     *Config
	logger     *slog.Logger
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	generation uint64 // bumped every time a channel is opened
}

// NewClient creates a new RabbitMQ client and declares the topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) dsn() string {
	if c.config.URL != "" {
		return c.config.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)
}

// connect establishes connection to RabbitMQ with retry logic. Callers hold c.mu
// or have exclusive access.
func (c *Client) connect() error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.dsn(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}
	c.generation++

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("queue_type", c.config.QueueType),
	)

	return nil
}

// setup declares exchange, queue, and bindings. Declaring is idempotent, so
// this doubles as create-if-not-exists.
func (c *Client) setup() error {
	if c.config.ExchangeName != "" {
		err := c.channel.ExchangeDeclare(
			c.config.ExchangeName,       // name
			c.config.ExchangeType,       // type
			c.config.ExchangeDurable,    // durable
			c.config.ExchangeAutoDelete, // auto-deleted
			false,                       // internal
			false,                       // no-wait
			nil,                         // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
	}

	_, err := c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		queueArgs(c.config),      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if c.config.ExchangeName != "" {
		err = c.channel.QueueBind(
			c.config.QueueName,    // queue name
			c.config.RoutingKey,   // routing key
			c.config.ExchangeName, // exchange
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue: %w", err)
		}
	}

	return nil
}

func queueArgs(config *Config) amqp.Table {
	if config.QueueType == "" {
		return nil
	}
	return amqp.Table{"x-queue-type": config.QueueType}
}

// ensureChannel reconnects when the previous channel or connection was closed
func (c *Client) ensureChannel() (*amqp.Channel, error) {
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}

	c.logger.Warn("RabbitMQ channel closed, reconnecting")
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c.channel, nil
}

// Get fetches one message without waiting. ok is false when the queue is empty.
func (c *Client) Get(ctx context.Context) (Delivery, bool, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.ensureChannel()
	if err != nil {
		return Delivery{}, false, err
	}

	d, ok, err := channel.Get(c.config.QueueName, false)
	if err != nil {
		return Delivery{}, false, fmt.Errorf("failed to get message: %w", err)
	}
	return Delivery{Delivery: d, Generation: c.generation}, ok, nil
}

// Ack acknowledges a delivery, removing it from the queue
func (c *Client) Ack(generation, deliveryTag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.channelFor(generation)
	if err != nil {
		return err
	}
	if err := channel.Ack(deliveryTag, false); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack rejects a delivery, optionally returning it to the queue
func (c *Client) Nack(generation, deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.channelFor(generation)
	if err != nil {
		return err
	}
	if err := channel.Nack(deliveryTag, false, requeue); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// channelFor returns the open channel a delivery of the given generation
// arrived on. Delivery tags are only valid on that channel.
func (c *Client) channelFor(generation uint64) (*amqp.Channel, error) {
	if generation != c.generation || c.channel == nil || c.channel.IsClosed() {
		return nil, fmt.Errorf("%w: generation %d, current %d", ErrStaleDelivery, generation, c.generation)
	}
	return c.channel, nil
}

// publish sends one message to the configured exchange or, without one, the queue
func (c *Client) publish(ctx context.Context, messageID string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel, err := c.ensureChannel()
	if err != nil {
		return err
	}

	routingKey := c.config.RoutingKey
	if c.config.ExchangeName == "" {
		routingKey = c.config.QueueName
	}

	return channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishWithRetry publishes a message to RabbitMQ with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, messageID, body, contentType)
		if err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("message_id", messageID),
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
				slog.String("content_type", contentType),
			)
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("publish canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// QueueName returns the queue this client consumes from
func (c *Client) QueueName() string {
	return c.config.QueueName
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// HealthCheck reports whether the broker connection is up
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}
