package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/cuongbtq/timestamp-worker/shared/blobstore"
)

// AdFinder looks up ad records
type AdFinder interface {
	FindByID(ctx context.Context, id int64) (*domain.Ad, error)
}

// Enqueuer adds a job message to the work queue
type Enqueuer interface {
	Enqueue(ctx context.Context, body string) (string, error)
}

// BlobSource reads containers and blobs
type BlobSource interface {
	Container(ctx context.Context, name string) (*blobstore.ContainerInfo, error)
	OpenReader(ctx context.Context, container, name string) (*blobstore.Reader, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service string
	Ads     AdFinder
	Queue   Enqueuer
	Blobs   BlobSource
	Checks  map[string]HealthChecker
}

// AdHandler handles ad-related HTTP requests
type AdHandler struct {
	logger *slog.Logger
	ads    AdFinder
	queue  Enqueuer
}

// NewAdHandler creates a new AdHandler instance
func NewAdHandler(deps *Dependencies) *AdHandler {
	return &AdHandler{
		logger: deps.Logger,
		ads:    deps.Ads,
		queue:  deps.Queue,
	}
}

// BlobHandler serves blobs from public containers
type BlobHandler struct {
	logger *slog.Logger
	blobs  BlobSource
}

// NewBlobHandler creates a new BlobHandler instance
func NewBlobHandler(deps *Dependencies) *BlobHandler {
	return &BlobHandler{
		logger: deps.Logger,
		blobs:  deps.Blobs,
	}
}

// HealthHandler reports service health
type HealthHandler struct {
	service string
	checks  map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		service: deps.Service,
		checks:  deps.Checks,
	}
}
