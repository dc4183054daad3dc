// Package queue adapts the RabbitMQ and Badger queue backends to the
// worker's receive/delete/release contract.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/cuongbtq/timestamp-worker/shared/rabbitmq"
	"github.com/google/uuid"
)

const textContentType = "text/plain"

// AMQPClient is the subset of the RabbitMQ client the adapter uses
type AMQPClient interface {
	Get(ctx context.Context) (rabbitmq.Delivery, bool, error)
	Ack(generation, deliveryTag uint64) error
	Nack(generation, deliveryTag uint64, requeue bool) error
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
	QueueName() string
	HealthCheck(ctx context.Context) error
}

// RabbitMQ polls a RabbitMQ queue with basic.get. The receipt is
// "<channel generation>:<delivery tag>".
type RabbitMQ struct {
	client AMQPClient
	logger *slog.Logger
}

// NewRabbitMQ creates a RabbitMQ queue adapter
func NewRabbitMQ(client AMQPClient, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		client: client,
		logger: logger,
	}
}

// Name returns the queue name
func (q *RabbitMQ) Name() string {
	return q.client.QueueName()
}

// HealthCheck reports whether the broker connection is up
func (q *RabbitMQ) HealthCheck(ctx context.Context) error {
	return q.client.HealthCheck(ctx)
}

// Receive fetches one message, or domain.ErrNoMessage when the queue is empty
func (q *RabbitMQ) Receive(ctx context.Context) (*domain.QueuedMessage, error) {
	d, ok, err := q.client.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNoMessage
	}

	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}

	return &domain.QueuedMessage{
		ID:            id,
		Body:          string(d.Body),
		Receipt:       formatReceipt(d.Generation, d.DeliveryTag),
		DeliveryCount: rabbitmq.DeliveryCount(d.Delivery),
	}, nil
}

// Delete acknowledges the delivery. A delivery from a replaced channel cannot
// be acked; the broker redelivers it.
func (q *RabbitMQ) Delete(ctx context.Context, msg *domain.QueuedMessage) error {
	generation, tag, err := parseReceipt(msg.Receipt)
	if err != nil {
		return err
	}
	return q.client.Ack(generation, tag)
}

// Release requeues the delivery. Quorum queues count it towards x-delivery-count.
func (q *RabbitMQ) Release(ctx context.Context, msg *domain.QueuedMessage) error {
	generation, tag, err := parseReceipt(msg.Receipt)
	if err != nil {
		return err
	}

	err = q.client.Nack(generation, tag, true)
	if errors.Is(err, rabbitmq.ErrStaleDelivery) {
		// Closing the old channel already returned it to the queue
		q.logger.Debug("Delivery already requeued by channel close",
			slog.String("message_id", msg.ID),
		)
		return nil
	}
	return err
}

// Enqueue publishes body as a persistent message and returns its message id
func (q *RabbitMQ) Enqueue(ctx context.Context, body string) (string, error) {
	id := uuid.New().String()
	if err := q.client.PublishWithRetry(ctx, id, []byte(body), textContentType); err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.logger.Debug("Message enqueued",
		slog.String("message_id", id),
	)
	return id, nil
}

func formatReceipt(generation, tag uint64) string {
	return strconv.FormatUint(generation, 10) + ":" + strconv.FormatUint(tag, 10)
}

func parseReceipt(receipt string) (generation, tag uint64, err error) {
	gen, rawTag, ok := strings.Cut(receipt, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid receipt %q", receipt)
	}
	if generation, err = strconv.ParseUint(gen, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid receipt %q: %w", receipt, err)
	}
	if tag, err = strconv.ParseUint(rawTag, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid receipt %q: %w", receipt, err)
	}
	return generation, tag, nil
}
