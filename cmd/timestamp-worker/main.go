package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/timestamp-worker/internal/config"
	"github.com/cuongbtq/timestamp-worker/internal/imaging"
	"github.com/cuongbtq/timestamp-worker/internal/worker"
	"github.com/cuongbtq/timestamp-worker/internal/worker/storage"
	"github.com/cuongbtq/timestamp-worker/shared/blobstore"
	"github.com/cuongbtq/timestamp-worker/shared/logger"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("TIMESTAMP_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/timestamp-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting timestamp worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_driver", cfg.Queue.Driver),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize Badger storage
	kvClient, err := initKVStore(&cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer kvClient.Close()

	blobStore := blobstore.New(kvClient.GetDB(), &blobstore.Config{
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	}, appLogger.Logger)

	if err := ensureImagesContainer(context.Background(), blobStore, cfg.Storage.ImagesContainer, appLogger.Logger); err != nil {
		return fmt.Errorf("failed to initialize images container: %w", err)
	}

	// Initialize work queue
	workQueue, closeQueue, err := initQueue(cfg, kvClient.GetDB(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer closeQueue()

	appLogger.Info("Queue ready",
		slog.String("driver", cfg.Queue.Driver),
		slog.String("queue", workQueue.Name()),
	)

	adStorage := storage.NewAdStorage(dbClient.GetDB(), appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Logger,
		Queue:           workQueue,
		Ads:             adStorage,
		Blobs:           storage.NewBlobStorage(blobStore),
		Transform:       imaging.NewStamper().Stamp,
		Container:       cfg.Storage.ImagesContainer,
		IdleInterval:    cfg.Worker.IdleInterval,
		ErrorBackoff:    cfg.Worker.ErrorBackoff,
		PoisonThreshold: cfg.Worker.PoisonThreshold,
		ReceiveTimeout:  cfg.Worker.ReceiveTimeout,
		JobTimeout:      cfg.Worker.JobTimeout,
	})

	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Run(gctx)
	})

	if cfg.Server.Enabled {
		srv := initHTTPServer(cfg, appLogger.Logger, adStorage, workQueue, blobStore, dbClient, kvClient)

		g.Go(func() error {
			appLogger.Info("Starting HTTP server",
				slog.String("address", srv.Addr),
				slog.Duration("read_timeout", cfg.Server.ReadTimeout),
				slog.Duration("write_timeout", cfg.Server.WriteTimeout),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			appLogger.Info("Shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		})
	}

	appLogger.Info("Timestamp worker is running",
		slog.String("worker_id", workerInstance.ID()),
	)

	if err := g.Wait(); err != nil {
		appLogger.Error("Timestamp worker stopped with error",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Timestamp worker shutdown complete")
	return nil
}

// ensureImagesContainer creates the images container and opens it for public
// reads the first time it is created
func ensureImagesContainer(ctx context.Context, store *blobstore.Store, name string, logger *slog.Logger) error {
	created, err := store.CreateContainerIfNotExists(ctx, name)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	if err := store.SetPublicAccess(ctx, name, true); err != nil {
		return err
	}

	logger.Info("Images container created with public read access",
		slog.String("container", name),
	)
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
