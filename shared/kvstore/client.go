package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Config holds Badger database configuration
type Config struct {
	Dir        string // Empty with InMemory set keeps everything in memory
	InMemory   bool
	SyncWrites bool
}

// Client owns the Badger database shared by the blob store and the local queue
type Client struct {
	db     *badger.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens the Badger database
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	opts := badger.DefaultOptions(config.Dir).
		WithInMemory(config.InMemory).
		WithSyncWrites(config.SyncWrites).
		WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "badger"))})

	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	logger.Info("Opening Badger database",
		slog.String("dir", config.Dir),
		slog.Bool("in_memory", config.InMemory),
	)

	db, err := badger.Open(opts)
	if err != nil {
		logger.Error("Failed to open Badger database",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &Client{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// GetDB returns the underlying badger.DB instance
func (c *Client) GetDB() *badger.DB {
	return c.db
}

// Close closes the database
func (c *Client) Close() error {
	c.logger.Info("Closing Badger database")

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close Badger database",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("Badger database closed successfully")
	return nil
}

// HealthCheck verifies the database still accepts reads
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.db.IsClosed() {
		return fmt.Errorf("badger database is closed")
	}
	return c.db.View(func(txn *badger.Txn) error {
		return nil
	})
}

// badgerLogger routes Badger's printf-style logging into slog
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(trim(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(trim(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(trim(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(trim(format, args...))
}

func trim(format string, args ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
