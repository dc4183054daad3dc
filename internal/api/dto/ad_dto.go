package dto

import (
	"time"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
)

type AdDTO struct {
	AdID       int64  `json:"ad_id"`
	Title      string `json:"title"`
	ImageURL   string `json:"image_url"`
	PostedDate string `json:"posted_date"`
}

type EnqueueResponse struct {
	AdID      int64  `json:"ad_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
}

// NewAdDTO converts an ad record for the API
func NewAdDTO(ad *domain.Ad) AdDTO {
	return AdDTO{
		AdID:       ad.ID,
		Title:      ad.Title,
		ImageURL:   ad.ImageURL,
		PostedDate: ad.PostedDate.UTC().Format(time.RFC3339),
	}
}
