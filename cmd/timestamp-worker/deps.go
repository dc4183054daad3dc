package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/timestamp-worker/internal/api/handler"
	"github.com/cuongbtq/timestamp-worker/internal/api/router"
	"github.com/cuongbtq/timestamp-worker/internal/config"
	"github.com/cuongbtq/timestamp-worker/internal/queue"
	"github.com/cuongbtq/timestamp-worker/internal/worker"
	"github.com/cuongbtq/timestamp-worker/shared/badgerqueue"
	"github.com/cuongbtq/timestamp-worker/shared/kvstore"
	"github.com/cuongbtq/timestamp-worker/shared/postgresql"
	"github.com/cuongbtq/timestamp-worker/shared/rabbitmq"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
)

// workQueue is consumed by the worker and fed by the HTTP API
type workQueue interface {
	worker.Queue
	handler.Enqueuer
	handler.HealthChecker
	Name() string
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initKVStore opens the Badger database holding blobs and the local queue
func initKVStore(cfg *config.StorageConfig, logger *slog.Logger) (*kvstore.Client, error) {
	return kvstore.NewClient(&kvstore.Config{
		Dir:        cfg.Dir,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URL:                cfg.URL,
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueType:          cfg.Queue.Type,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initQueue opens the configured queue backend. The returned func releases it.
func initQueue(cfg *config.Config, db *badger.DB, logger *slog.Logger) (workQueue, func() error, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverRabbitMQ:
		client, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewRabbitMQ(client, logger), client.Close, nil

	case config.QueueDriverBadger:
		bq, err := badgerqueue.New(db, &badgerqueue.Config{
			Name:              cfg.Queue.Name,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewBadger(bq), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue driver: %q", cfg.Queue.Driver)
	}
}

// initHTTPServer builds the API server
func initHTTPServer(
	cfg *config.Config,
	logger *slog.Logger,
	ads handler.AdFinder,
	q workQueue,
	blobs handler.BlobSource,
	db handler.HealthChecker,
	kv handler.HealthChecker,
) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:  logger,
		Service: cfg.App.Name,
		Ads:     ads,
		Queue:   q,
		Blobs:   blobs,
		Checks: map[string]handler.HealthChecker{
			"database": db,
			"storage":  kv,
			"queue":    q,
		},
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
