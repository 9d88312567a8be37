package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Mail      MailConfig
	Reconcile ReconcileConfig
	Env       string
	LogLevel  string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	MetricsPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RedisConfig holds the connection settings for the shared counter and queue store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds RabbitMQ configuration for delivery events
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Enabled  bool
	Queue    string
}

// QueueConfig tunes the delayed dispatch queue
type QueueConfig struct {
	Name          string
	PollInterval  time.Duration
	Lease         time.Duration
	KeepCompleted int
	KeepFailed    int
}

// WorkerConfig holds the delivery pool throttles
type WorkerConfig struct {
	Concurrency      int
	MinDelay         time.Duration
	MaxEmailsPerHour int
	SenderID         string
}

// MailConfig holds outbound transport settings.
// An empty SMTPHost selects the simulated transport.
type MailConfig struct {
	From                 string
	SMTPHost             string
	SMTPPort             string
	SMTPUser             string
	SMTPPass             string
	SimulatedSuccessRate float64
}

// ReconcileConfig controls the sweep that re-enqueues jobs never bound to a queue unit
type ReconcileConfig struct {
	Schedule string
	Grace    time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			MetricsPort: getEnv("METRICS_PORT", "9090"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "mailpacer"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "mailpacer_db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			Enabled:  getEnvAsBool("EVENTS_ENABLED", false),
			Queue:    getEnv("EVENTS_QUEUE", "email_events"),
		},
		Queue: QueueConfig{
			Name:          getEnv("QUEUE_NAME", "email-send"),
			PollInterval:  getEnvAsDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			Lease:         getEnvAsDuration("QUEUE_LEASE", 5*time.Minute),
			KeepCompleted: getEnvAsInt("QUEUE_KEEP_COMPLETED", 1000),
			KeepFailed:    getEnvAsInt("QUEUE_KEEP_FAILED", 5000),
		},
		Worker: WorkerConfig{
			Concurrency:      getEnvAsInt("WORKER_CONCURRENCY", 5),
			MinDelay:         time.Duration(getEnvAsInt("MIN_DELAY_MS", 2000)) * time.Millisecond,
			MaxEmailsPerHour: getEnvAsInt("MAX_EMAILS_PER_HOUR", 100),
			SenderID:         getEnv("SENDER_ID", "global"),
		},
		Mail: MailConfig{
			From:                 getEnv("MAIL_FROM", "sender@ethereal.test"),
			SMTPHost:             getEnv("SMTP_HOST", ""),
			SMTPPort:             getEnv("SMTP_PORT", "587"),
			SMTPUser:             getEnv("SMTP_USER", ""),
			SMTPPass:             getEnv("SMTP_PASS", ""),
			SimulatedSuccessRate: getEnvAsFloat("SIMULATED_SUCCESS_RATE", 1.0),
		},
		Reconcile: ReconcileConfig{
			Schedule: getEnv("RECONCILE_SCHEDULE", "@every 1m"),
			Grace:    getEnvAsDuration("RECONCILE_GRACE", 2*time.Minute),
		},
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}

	config.normalize()

	return config, nil
}

// normalize coerces throttle values to sane positive minimums
func (c *Config) normalize() {
	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.MinDelay < 0 {
		c.Worker.MinDelay = 0
	}
	if c.Worker.MaxEmailsPerHour < 1 {
		c.Worker.MaxEmailsPerHour = 1
	}
	if strings.TrimSpace(c.Worker.SenderID) == "" {
		c.Worker.SenderID = "global"
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Queue.Lease <= 0 {
		c.Queue.Lease = 5 * time.Minute
	}
	if c.Mail.SimulatedSuccessRate < 0 {
		c.Mail.SimulatedSuccessRate = 0
	}
	if c.Mail.SimulatedSuccessRate > 1 {
		c.Mail.SimulatedSuccessRate = 1
	}
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// GetSMTPAddr returns host:port of the SMTP relay
func (c *Config) GetSMTPAddr() string {
	return c.Mail.SMTPHost + ":" + c.Mail.SMTPPort
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("500ms", "2m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
