package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
)

// releaseTimeout bounds queue cleanup after the run context is canceled
const releaseTimeout = 5 * time.Second

// Run polls the queue until ctx is canceled. Failures are handled per message
// and never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker loop started",
		slog.Duration("idle_interval", w.idleInterval),
		slog.Duration("error_backoff", w.errorBackoff),
		slog.Int("poison_threshold", w.poisonThreshold),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker loop stopped - context canceled")
			return nil
		}

		wait := w.poll(ctx)
		if wait <= 0 {
			continue
		}

		if err := w.sleep(ctx, wait); err != nil {
			w.logger.Info("Worker loop stopped - context canceled")
			return nil
		}
	}
}

// poll runs one iteration and returns how long to wait before the next one
func (w *Worker) poll(ctx context.Context) time.Duration {
	msg, err := w.receive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoMessage) {
			return w.idleInterval
		}
		if ctx.Err() != nil {
			return 0
		}
		w.logger.Error("Failed to receive message",
			slog.String("error", err.Error()),
		)
		return w.errorBackoff
	}

	err = w.processSafely(ctx, msg)
	return w.handleResult(ctx, msg, err)
}

func (w *Worker) receive(ctx context.Context) (*domain.QueuedMessage, error) {
	if w.receiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.receiveTimeout)
		defer cancel()
	}
	return w.queue.Receive(ctx)
}

// processSafely runs the processor under the job timeout and turns a panic
// into an ordinary error
func (w *Worker) processSafely(ctx context.Context, msg *domain.QueuedMessage) (err error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message %s: %v", msg.ID, r)
		}
	}()

	return w.processor.Process(ctx, msg)
}

func (w *Worker) handleResult(ctx context.Context, msg *domain.QueuedMessage, err error) time.Duration {
	if err == nil {
		w.logger.Info("Job completed successfully",
			slog.String("message_id", msg.ID),
			slog.String("body", msg.Body),
		)
		return 0
	}

	// Shutting down mid-job: hand the message back and stop
	if ctx.Err() != nil {
		w.logger.Warn("Job interrupted by shutdown",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		w.release(msg)
		return 0
	}

	if domain.IsPermanent(err) {
		w.logger.Error("Discarding unprocessable queue item",
			slog.String("message_id", msg.ID),
			slog.String("body", msg.Body),
			slog.String("error", err.Error()),
		)
		w.delete(ctx, msg)
		return 0
	}

	w.logger.Error("Job processing failed",
		slog.String("message_id", msg.ID),
		slog.Int("delivery_count", msg.DeliveryCount),
		slog.String("error", err.Error()),
	)

	if msg.DeliveryCount > w.poisonThreshold {
		w.logger.Error("Deleting poison queue item",
			slog.String("message_id", msg.ID),
			slog.String("body", msg.Body),
			slog.Int("delivery_count", msg.DeliveryCount),
			slog.Int("poison_threshold", w.poisonThreshold),
		)
		w.delete(ctx, msg)
		return 0
	}

	w.release(msg)
	return w.errorBackoff
}

func (w *Worker) delete(ctx context.Context, msg *domain.QueuedMessage) {
	if err := w.queue.Delete(ctx, msg); err != nil {
		w.logger.Error("Failed to delete message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// release uses its own context so a canceled run still returns the delivery
func (w *Worker) release(msg *domain.QueuedMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := w.queue.Release(ctx, msg); err != nil {
		w.logger.Error("Failed to release message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}
