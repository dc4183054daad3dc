package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/timestamp-worker/internal/api/dto"
	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

// GetAd handles GET /api/v1/ads/:ad_id
func (h *AdHandler) GetAd(c *gin.Context) {
	id, ok := h.parseAdID(c)
	if !ok {
		return
	}

	ad, err := h.ads.FindByID(c.Request.Context(), id)
	if err != nil {
		h.respondLookupError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAdDTO(ad))
}

// EnqueueTimestamp handles POST /api/v1/ads/:ad_id/timestamp
// Queues the ad's image for timestamping
func (h *AdHandler) EnqueueTimestamp(c *gin.Context) {
	id, ok := h.parseAdID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	if _, err := h.ads.FindByID(ctx, id); err != nil {
		h.respondLookupError(c, id, err)
		return
	}

	messageID, err := h.queue.Enqueue(ctx, domain.FormatAdID(id))
	if err != nil {
		h.logger.Error("Failed to enqueue timestamp job",
			slog.Int64("ad_id", id),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Timestamp job enqueued",
		slog.Int64("ad_id", id),
		slog.String("message_id", messageID),
	)

	c.JSON(http.StatusAccepted, dto.EnqueueResponse{
		AdID:      id,
		MessageID: messageID,
		Status:    "QUEUED",
	})
}

func (h *AdHandler) parseAdID(c *gin.Context) (int64, bool) {
	id, err := domain.ParseAdID(c.Param("ad_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "ad_id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func (h *AdHandler) respondLookupError(c *gin.Context, id int64, err error) {
	if errors.Is(err, domain.ErrAdNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Ad not found",
		})
		return
	}

	h.logger.Error("Failed to get ad",
		slog.Int64("ad_id", id),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Failed to get ad",
	})
}
