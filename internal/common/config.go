package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldline/crm-ocr/constants"
)

// Config holds all application configuration.
type Config struct {
	Database   DatabaseConfig `yaml:"database"`
	Queue      QueueConfig    `yaml:"queue"`
	Worker     WorkerConfig   `yaml:"worker"`
	Validation ValidateConfig `yaml:"validate"`
	OCR        OCRConfig      `yaml:"ocr"`
	Sweep      SweepConfig    `yaml:"sweep"`
	Metrics    MetricsConfig  `yaml:"metrics"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// QueueConfig selects and configures the job queue backend.
type QueueConfig struct {
	// Backend is "memory" or "rabbitmq".
	Backend string `yaml:"backend"`
	// Size bounds the in-memory queue.
	Size int `yaml:"size"`

	AMQPURL       string        `yaml:"amqp_url"`
	QueueName     string        `yaml:"queue_name"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// WorkerConfig holds orchestrator configuration.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	BatchSize    int           `yaml:"batch_size"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// ValidateConfig bounds accepted input images.
type ValidateConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MinDimension int   `yaml:"min_dimension"`
	MaxDimension int   `yaml:"max_dimension"`
}

// OCRConfig holds text-extraction configuration.
type OCRConfig struct {
	Tesseract     string `yaml:"tesseract"`
	Languages     string `yaml:"languages"`
	TessdataDir   string `yaml:"tessdata_dir"`
	PSM           int    `yaml:"psm"`
	OEM           int    `yaml:"oem"`
	MinTextLength int    `yaml:"min_text_length"`
}

// SweepConfig drives the maintenance sweeper.
type SweepConfig struct {
	Interval      time.Duration `yaml:"interval"`
	FileRetention time.Duration `yaml:"file_retention"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	PendingAfter  time.Duration `yaml:"pending_after"`
	RemoveFiles   bool          `yaml:"remove_files"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// MetricsConfig holds the metrics listener address.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// LoadConfig reads an optional YAML file and then applies environment
// overrides and defaults. An empty path skips the file stage.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Queue.AMQPURL = getEnv("AMQP_URL", c.Queue.AMQPURL)
	c.Sweep.RedisAddr = getEnv("REDIS_ADDR", c.Sweep.RedisAddr)
	c.Sweep.RedisPassword = getEnv("REDIS_PASSWORD", c.Sweep.RedisPassword)
	c.OCR.Tesseract = getEnv("TESSERACT_BIN", c.OCR.Tesseract)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", c.Worker.Concurrency)
}

func (c *Config) applyDefaults() {
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Database.DialTimeout <= 0 {
		c.Database.DialTimeout = 3 * time.Second
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Queue.QueueName == "" {
		c.Queue.QueueName = "ocr.jobs"
	}
	if c.Queue.RetryAttempts <= 0 {
		c.Queue.RetryAttempts = 5
	}
	if c.Queue.RetryInterval <= 0 {
		c.Queue.RetryInterval = 2 * time.Second
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 3 * time.Minute
	}
	if c.Worker.RetryBackoff <= 0 {
		c.Worker.RetryBackoff = 30 * time.Second
	}
	if c.Validation.MaxFileBytes <= 0 {
		c.Validation.MaxFileBytes = constants.DefaultMaxFileBytes
	}
	if c.Validation.MinDimension <= 0 {
		c.Validation.MinDimension = constants.DefaultMinDimension
	}
	if c.Validation.MaxDimension <= 0 {
		c.Validation.MaxDimension = constants.DefaultMaxDimension
	}
	if c.OCR.Tesseract == "" {
		c.OCR.Tesseract = "tesseract"
	}
	if c.OCR.Languages == "" {
		c.OCR.Languages = "eng"
	}
	if c.OCR.MinTextLength <= 0 {
		c.OCR.MinTextLength = 10
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = 5 * time.Minute
	}
	if c.Sweep.FileRetention <= 0 {
		c.Sweep.FileRetention = 30 * 24 * time.Hour
	}
	if c.Sweep.StaleAfter <= 0 {
		c.Sweep.StaleAfter = 15 * time.Minute
	}
	if c.Sweep.PendingAfter <= 0 {
		c.Sweep.PendingAfter = 10 * time.Minute
	}
	if c.Sweep.LockTTL <= 0 {
		c.Sweep.LockTTL = 2 * time.Minute
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required (set DB_URL or database.dsn)")
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "rabbitmq" {
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "rabbitmq" && c.Queue.AMQPURL == "" {
		return fmt.Errorf("amqp url is required for the rabbitmq queue backend")
	}
	if c.Validation.MinDimension >= c.Validation.MaxDimension {
		return fmt.Errorf("validate.min_dimension must be below validate.max_dimension")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
