package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue drivers
const (
	QueueDriverRabbitMQ = "rabbitmq"
	QueueDriverBadger   = "badger"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Queue    QueueConfig    `yaml:"queue"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
// URL, when set, replaces the discrete connection fields.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	URL        string            `yaml:"url"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	VHost      string            `yaml:"vhost"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Queue      RabbitQueueConfig `yaml:"queue"`
	RoutingKey string            `yaml:"routing_key"`
	Connection ConnectionConfig  `yaml:"connection"`
	Publish    PublishConfig     `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration. An empty name
// publishes straight to the queue through the default exchange.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueueConfig holds RabbitMQ queue configuration
type RabbitQueueConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// QueueConfig selects the work queue backend
type QueueConfig struct {
	Driver            string        `yaml:"driver"`
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

// StorageConfig holds the Badger blob storage configuration
type StorageConfig struct {
	Dir             string `yaml:"dir"`
	InMemory        bool   `yaml:"in_memory"`
	SyncWrites      bool   `yaml:"sync_writes"`
	ImagesContainer string `yaml:"images_container"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	PoisonThreshold int           `yaml:"poison_threshold"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "timestamp-worker"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueDriverRabbitMQ
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "timestamp"
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 30 * time.Second
	}

	if c.RabbitMQ.Queue.Name == "" {
		c.RabbitMQ.Queue.Name = c.Queue.Name
	}
	if c.RabbitMQ.Queue.Type == "" {
		c.RabbitMQ.Queue.Type = "quorum"
	}

	if c.Storage.ImagesContainer == "" {
		c.Storage.ImagesContainer = "images"
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/blobs", c.Server.Port)
	}

	if c.Worker.ReceiveTimeout == 0 {
		c.Worker.ReceiveTimeout = 30 * time.Second
	}
	if c.Worker.IdleInterval == 0 {
		c.Worker.IdleInterval = time.Second
	}
	if c.Worker.ErrorBackoff == 0 {
		c.Worker.ErrorBackoff = 5 * time.Second
	}
	if c.Worker.PoisonThreshold == 0 {
		c.Worker.PoisonThreshold = 5
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 2 * time.Minute
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port < MinPort || c.Server.Port > MaxPort) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database url or host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return fmt.Errorf("storage dir is required")
	}

	switch c.Queue.Driver {
	case QueueDriverRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case QueueDriverBadger:
		if c.Queue.VisibilityTimeout <= 0 {
			return fmt.Errorf("queue visibility_timeout must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown queue driver: %q (must be %q or %q)", c.Queue.Driver, QueueDriverRabbitMQ, QueueDriverBadger)
	}

	return c.validateWorker()
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.URL == "" {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq url or host is required")
		}

		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.Exchange.Name != "" && c.RabbitMQ.RoutingKey == "" {
		return fmt.Errorf("rabbitmq routing_key is required when an exchange is set")
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.IdleInterval <= 0 {
		return fmt.Errorf("worker idle_interval must be greater than 0")
	}

	if c.Worker.ErrorBackoff <= 0 {
		return fmt.Errorf("worker error_backoff must be greater than 0")
	}

	if c.Worker.PoisonThreshold <= 0 {
		return fmt.Errorf("worker poison_threshold must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	return nil
}
