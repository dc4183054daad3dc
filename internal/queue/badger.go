package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/cuongbtq/timestamp-worker/shared/badgerqueue"
)

// Badger adapts a badgerqueue.Queue. The receipt is the delivery's visibility stamp.
type Badger struct {
	queue *badgerqueue.Queue
}

// NewBadger creates a Badger queue adapter
func NewBadger(queue *badgerqueue.Queue) *Badger {
	return &Badger{queue: queue}
}

// Receive claims the oldest visible message, or returns domain.ErrNoMessage
func (q *Badger) Receive(ctx context.Context) (*domain.QueuedMessage, error) {
	msg, err := q.queue.Receive(ctx)
	if err != nil {
		if errors.Is(err, badgerqueue.ErrNoMessage) {
			return nil, domain.ErrNoMessage
		}
		return nil, err
	}

	return &domain.QueuedMessage{
		ID:            msg.ID,
		Body:          msg.Body,
		Receipt:       msg.Receipt(),
		DeliveryCount: msg.ReceiveCount,
	}, nil
}

// Delete removes the message
func (q *Badger) Delete(ctx context.Context, msg *domain.QueuedMessage) error {
	return q.queue.Delete(ctx, msg.ID, msg.Receipt)
}

// Release makes the message visible again without waiting for its timeout
func (q *Badger) Release(ctx context.Context, msg *domain.QueuedMessage) error {
	return q.queue.Release(ctx, msg.ID, msg.Receipt)
}

// Enqueue adds body to the queue
func (q *Badger) Enqueue(ctx context.Context, body string) (string, error) {
	return q.queue.Enqueue(ctx, body)
}

// Name returns the queue name
func (q *Badger) Name() string {
	return q.queue.Name()
}

// HealthCheck verifies the queue index can be read
func (q *Badger) HealthCheck(ctx context.Context) error {
	if _, err := q.queue.Len(ctx); err != nil {
		return fmt.Errorf("badger queue %s is unavailable: %w", q.queue.Name(), err)
	}
	return nil
}
