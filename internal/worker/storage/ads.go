package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/timestamp-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// AdStorage handles ad record reads and writes for the worker
type AdStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewAdStorage creates a new AdStorage instance
func NewAdStorage(db *sqlx.DB, logger *slog.Logger) *AdStorage {
	return &AdStorage{
		db:     db,
		logger: logger,
	}
}

// FindByID retrieves an ad by its id
func (s *AdStorage) FindByID(ctx context.Context, id int64) (*domain.Ad, error) {
	query := `
		SELECT ad_id, title, image_url, posted_date
		FROM ads
		WHERE ad_id = $1
	`

	var ad domain.Ad
	if err := s.db.GetContext(ctx, &ad, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", domain.ErrAdNotFound, id)
		}
		return nil, fmt.Errorf("failed to get ad: %w", err)
	}

	return &ad, nil
}

// Save writes the ad's image URL back. No other column is touched.
func (s *AdStorage) Save(ctx context.Context, ad *domain.Ad) error {
	query := `
		UPDATE ads
		SET image_url = $1
		WHERE ad_id = $2
	`

	result, err := s.db.ExecContext(ctx, query, ad.ImageURL, ad.ID)
	if err != nil {
		return fmt.Errorf("failed to update ad: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Ad update - no rows affected (ad may have been deleted)",
			slog.Int64("ad_id", ad.ID),
		)
		return fmt.Errorf("%w: id %d", domain.ErrAdNotFound, ad.ID)
	}

	s.logger.Debug("Ad image URL updated",
		slog.Int64("ad_id", ad.ID),
		slog.String("image_url", ad.ImageURL),
	)

	return nil
}
