package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/google/uuid"
)

// Queue is an at-least-once queue polled one message at a time
type Queue interface {
	// Receive returns domain.ErrNoMessage when nothing is visible
	Receive(ctx context.Context) (*domain.QueuedMessage, error)
	Delete(ctx context.Context, msg *domain.QueuedMessage) error
	// Release gives up a delivery without deleting it so it can be redelivered
	Release(ctx context.Context, msg *domain.QueuedMessage) error
}

// AdStore loads and saves ad records
type AdStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Ad, error)
	Save(ctx context.Context, ad *domain.Ad) error
}

// BlobStore opens blobs for reading and writing
type BlobStore interface {
	OpenReader(ctx context.Context, ref domain.BlobRef) (io.ReadCloser, error)
	OpenWriter(ctx context.Context, ref domain.BlobRef, contentType string) (domain.BlobWriter, error)
	Metadata(ctx context.Context, ref domain.BlobRef) (map[string]string, error)
	URL(ref domain.BlobRef) string
}

// Transform reads an image from r and writes the stamped image to w
type Transform func(r io.Reader, w io.Writer) error

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Queue           Queue
	Ads             AdStore
	Blobs           BlobStore
	Transform       Transform
	Container       string
	IdleInterval    time.Duration
	ErrorBackoff    time.Duration
	PoisonThreshold int
	ReceiveTimeout  time.Duration
	JobTimeout      time.Duration
}

// Worker drains the timestamp queue one message at a time
type Worker struct {
	logger          *slog.Logger
	queue           Queue
	processor       *Processor
	workerID        string
	idleInterval    time.Duration
	errorBackoff    time.Duration
	poisonThreshold int
	receiveTimeout  time.Duration
	jobTimeout      time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := uuid.New().String()
	logger := cfg.Logger.With(slog.String("worker_id", workerID))

	return &Worker{
		logger:          logger,
		queue:           cfg.Queue,
		processor:       NewProcessor(cfg.Queue, cfg.Ads, cfg.Blobs, cfg.Transform, cfg.Container, logger),
		workerID:        workerID,
		idleInterval:    cfg.IdleInterval,
		errorBackoff:    cfg.ErrorBackoff,
		poisonThreshold: cfg.PoisonThreshold,
		receiveTimeout:  cfg.ReceiveTimeout,
		jobTimeout:      cfg.JobTimeout,
		sleep:           sleepContext,
	}
}

// ID returns the worker's unique id
func (w *Worker) ID() string {
	return w.workerID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
