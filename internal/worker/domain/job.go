package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Ad represents the database record a timestamp job points at
type Ad struct {
	ID         int64     `db:"ad_id"`
	Title      string    `db:"title"`
	ImageURL   string    `db:"image_url"`
	PostedDate time.Time `db:"posted_date"`
}

// QueuedMessage represents one delivery of a job message
type QueuedMessage struct {
	ID            string
	Body          string
	Receipt       string // Opaque handle needed to delete or release the delivery
	DeliveryCount int    // 1 on first delivery
}

// ParseAdID parses a job payload into the ad id it references
func ParseAdID(payload string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPayload, payload)
	}

	if id <= 0 {
		return 0, fmt.Errorf("%w: ad id %d must be positive", ErrInvalidPayload, id)
	}

	return id, nil
}

// FormatAdID renders an ad id as a job payload
func FormatAdID(id int64) string {
	return strconv.FormatInt(id, 10)
}
