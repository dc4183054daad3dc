package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/timestamp-worker/internal/imaging"
	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
)

// Processor runs the fetch, stamp, store, commit and acknowledge steps for one message
type Processor struct {
	queue     Queue
	ads       AdStore
	blobs     BlobStore
	transform Transform
	container string
	logger    *slog.Logger
}

// NewProcessor creates a new Processor
func NewProcessor(queue Queue, ads AdStore, blobs BlobStore, transform Transform, container string, logger *slog.Logger) *Processor {
	return &Processor{
		queue:     queue,
		ads:       ads,
		blobs:     blobs,
		transform: transform,
		container: container,
		logger:    logger,
	}
}

// Process handles one delivery. The ad is saved only after the new blob is
// committed, and the message is deleted only after the ad is saved.
func (p *Processor) Process(ctx context.Context, msg *domain.QueuedMessage) error {
	p.logger.Info("Processing queue message",
		slog.String("message_id", msg.ID),
		slog.String("body", msg.Body),
		slog.Int("delivery_count", msg.DeliveryCount),
	)

	// Step 1: Parse the ad id
	adID, err := domain.ParseAdID(msg.Body)
	if err != nil {
		return err
	}

	// Step 2: Load the ad
	ad, err := p.ads.FindByID(ctx, adID)
	if err != nil {
		return fmt.Errorf("failed to load ad %d: %w", adID, err)
	}

	// Step 3: Derive source and destination blobs
	src, err := domain.SourceBlobRef(p.container, ad.ImageURL)
	if err != nil {
		return fmt.Errorf("ad %d: %w", adID, err)
	}
	dst := src.Timestamped()

	// Redelivery after the ad was saved: the work is already done
	if msg.DeliveryCount > 1 && domain.IsTimestamped(src.Name) {
		done, err := p.stampedByWorker(ctx, src)
		if err != nil {
			return fmt.Errorf("ad %d: %w", adID, err)
		}
		if done {
			p.logger.Info("Ad already points at a timestamped blob",
				slog.Int64("ad_id", adID),
				slog.String("blob", src.String()),
			)
			return p.ack(ctx, msg)
		}
	}

	// Step 4 and 5: Stamp the source image into the destination blob
	if err := p.stamp(ctx, src, dst); err != nil {
		return fmt.Errorf("ad %d: %w", adID, err)
	}

	p.logger.Info("Generated timestamp in blob",
		slog.Int64("ad_id", adID),
		slog.String("blob", dst.String()),
	)

	// Step 6: Point the ad at the new blob
	ad.ImageURL = p.blobs.URL(dst)
	if err := p.ads.Save(ctx, ad); err != nil {
		return fmt.Errorf("failed to save ad %d: %w", adID, err)
	}

	p.logger.Info("Updated timestamp URL in database",
		slog.Int64("ad_id", adID),
		slog.String("image_url", ad.ImageURL),
	)

	// Step 7: Acknowledge
	return p.ack(ctx, msg)
}

func (p *Processor) ack(ctx context.Context, msg *domain.QueuedMessage) error {
	if err := p.queue.Delete(ctx, msg); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", msg.ID, err)
	}
	return nil
}

// stampedByWorker reports whether ref was written by a previous run rather
// than uploaded under a name that happens to look timestamped
func (p *Processor) stampedByWorker(ctx context.Context, ref domain.BlobRef) (bool, error) {
	meta, err := p.blobs.Metadata(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read blob metadata %s: %w", ref, err)
	}
	return meta[domain.StampedMetadataKey] == "true", nil
}

// stamp streams src through the transform into dst. Both handles are released
// on every path; dst is only committed after the transform succeeds.
func (p *Processor) stamp(ctx context.Context, src, dst domain.BlobRef) error {
	in, err := p.blobs.OpenReader(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to open source blob %s: %w", src, err)
	}
	defer in.Close()

	out, err := p.blobs.OpenWriter(ctx, dst, domain.JPEGContentType)
	if err != nil {
		return fmt.Errorf("failed to open destination blob %s: %w", dst, err)
	}
	defer out.Close()

	out.SetMetadata(domain.StampedMetadataKey, "true")

	if err := p.transform(in, out); err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			return fmt.Errorf("%w: blob %s: %v", domain.ErrUnsupportedImage, src, err)
		}
		return fmt.Errorf("failed to stamp blob %s: %w", src, err)
	}

	if err := out.Commit(); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", dst, err)
	}

	return nil
}
