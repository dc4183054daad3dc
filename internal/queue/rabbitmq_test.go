package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/timestamp-worker/internal/worker"
	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/cuongbtq/timestamp-worker/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ worker.Queue = (*RabbitMQ)(nil)
	_ worker.Queue = (*Badger)(nil)
	_ AMQPClient   = (*rabbitmq.Client)(nil)
)

type ackCall struct {
	generation uint64
	tag        uint64
	requeue    bool
}

type fakeAMQP struct {
	delivery   amqp.Delivery
	generation uint64
	ok         bool
	getErr     error

	// current is the live channel generation; calls for any other are stale
	current uint64

	acked     []ackCall
	nacked    []ackCall
	published []string
	ids       []string
	pubErr    error
	healthErr error
}

func (f *fakeAMQP) Get(ctx context.Context) (rabbitmq.Delivery, bool, error) {
	return rabbitmq.Delivery{Delivery: f.delivery, Generation: f.generation}, f.ok, f.getErr
}

func (f *fakeAMQP) Ack(generation, tag uint64) error {
	if generation != f.current {
		return fmt.Errorf("%w: generation %d", rabbitmq.ErrStaleDelivery, generation)
	}
	f.acked = append(f.acked, ackCall{generation: generation, tag: tag})
	return nil
}

func (f *fakeAMQP) Nack(generation, tag uint64, requeue bool) error {
	if generation != f.current {
		return fmt.Errorf("%w: generation %d", rabbitmq.ErrStaleDelivery, generation)
	}
	f.nacked = append(f.nacked, ackCall{generation: generation, tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAMQP) PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.ids = append(f.ids, messageID)
	f.published = append(f.published, string(body))
	return nil
}

func (f *fakeAMQP) QueueName() string {
	return "timestamp"
}

func (f *fakeAMQP) HealthCheck(ctx context.Context) error {
	return f.healthErr
}

func newTestRabbitMQ(client *fakeAMQP) *RabbitMQ {
	return NewRabbitMQ(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRabbitMQ_Receive(t *testing.T) {
	tests := []struct {
		name        string
		delivery    amqp.Delivery
		wantID      string
		wantReceipt string
		wantCount   int
	}{
		{
			name:        "first delivery",
			delivery:    amqp.Delivery{DeliveryTag: 7, MessageId: "m-1", Body: []byte("42")},
			wantID:      "m-1",
			wantReceipt: "1:7",
			wantCount:   1,
		},
		{
			name: "quorum redelivery",
			delivery: amqp.Delivery{
				DeliveryTag: 8,
				MessageId:   "m-1",
				Body:        []byte("42"),
				Redelivered: true,
				Headers:     amqp.Table{"x-delivery-count": int64(5)},
			},
			wantID:      "m-1",
			wantReceipt: "1:8",
			wantCount:   6,
		},
		{
			name:        "no message id falls back to tag",
			delivery:    amqp.Delivery{DeliveryTag: 9, Body: []byte("42")},
			wantID:      "9",
			wantReceipt: "1:9",
			wantCount:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestRabbitMQ(&fakeAMQP{delivery: tt.delivery, generation: 1, current: 1, ok: true})

			msg, err := q.Receive(context.Background())

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, msg.ID)
			assert.Equal(t, "42", msg.Body)
			assert.Equal(t, tt.wantReceipt, msg.Receipt)
			assert.Equal(t, tt.wantCount, msg.DeliveryCount)
		})
	}
}

func TestRabbitMQ_ReceiveEmpty(t *testing.T) {
	q := newTestRabbitMQ(&fakeAMQP{ok: false})

	msg, err := q.Receive(context.Background())

	assert.Nil(t, msg)
	assert.ErrorIs(t, err, domain.ErrNoMessage)
}

func TestRabbitMQ_ReceiveError(t *testing.T) {
	connErr := errors.New("channel closed")
	q := newTestRabbitMQ(&fakeAMQP{getErr: connErr})

	_, err := q.Receive(context.Background())

	assert.ErrorIs(t, err, connErr)
	assert.NotErrorIs(t, err, domain.ErrNoMessage)
}

func TestRabbitMQ_DeleteAndRelease(t *testing.T) {
	client := &fakeAMQP{delivery: amqp.Delivery{DeliveryTag: 12, Body: []byte("42")}, generation: 2, current: 2, ok: true}
	q := newTestRabbitMQ(client)
	ctx := context.Background()

	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, msg))
	require.NoError(t, q.Delete(ctx, msg))

	assert.Equal(t, []ackCall{{generation: 2, tag: 12, requeue: true}}, client.nacked)
	assert.Equal(t, []ackCall{{generation: 2, tag: 12}}, client.acked)
}

func TestRabbitMQ_DeliveryFromReplacedChannel(t *testing.T) {
	client := &fakeAMQP{delivery: amqp.Delivery{DeliveryTag: 3, Body: []byte("42")}, generation: 1, current: 1, ok: true}
	q := newTestRabbitMQ(client)
	ctx := context.Background()

	msg, err := q.Receive(ctx)
	require.NoError(t, err)

	// The client reconnected while the job ran
	client.current = 2

	err = q.Delete(ctx, msg)
	assert.ErrorIs(t, err, rabbitmq.ErrStaleDelivery)

	// Already requeued by the broker when the old channel closed
	assert.NoError(t, q.Release(ctx, msg))

	assert.Empty(t, client.acked)
	assert.Empty(t, client.nacked)
}

func TestParseReceipt(t *testing.T) {
	tests := []struct {
		receipt string
		wantGen uint64
		wantTag uint64
		wantErr bool
	}{
		{receipt: "1:7", wantGen: 1, wantTag: 7},
		{receipt: "12:18446744073709551615", wantGen: 12, wantTag: 18446744073709551615},
		{receipt: "7", wantErr: true},
		{receipt: "a:7", wantErr: true},
		{receipt: "1:b", wantErr: true},
		{receipt: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.receipt, func(t *testing.T) {
			gen, tag, err := parseReceipt(tt.receipt)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGen, gen)
			assert.Equal(t, tt.wantTag, tag)
			assert.Equal(t, tt.receipt, formatReceipt(gen, tag))
		})
	}
}

func TestRabbitMQ_Enqueue(t *testing.T) {
	client := &fakeAMQP{}
	q := newTestRabbitMQ(client)

	id, err := q.Enqueue(context.Background(), "42")

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{id}, client.ids)
	assert.Equal(t, []string{"42"}, client.published)

	client.pubErr = errors.New("broker down")
	_, err = q.Enqueue(context.Background(), "43")
	assert.ErrorContains(t, err, "broker down")
}

func TestRabbitMQ_NameAndHealth(t *testing.T) {
	client := &fakeAMQP{}
	q := newTestRabbitMQ(client)

	assert.Equal(t, "timestamp", q.Name())
	assert.NoError(t, q.HealthCheck(context.Background()))

	client.healthErr = errors.New("rabbitmq connection is closed")
	assert.Error(t, q.HealthCheck(context.Background()))
}
