package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// ServerConfig is the environment-driven configuration shared by all commands
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`

	// Backend selection by URL scheme
	DatabaseURL string `env:"DATABASE_URL" env-default:"memory"`
	DBSchema    string `env:"DB_SCHEMA" env-default:"video"`
	StorageURL  string `env:"STORAGE_URL" env-default:"memory://videos"`
	ComputeURL  string `env:"COMPUTE_URL"` // empty disables distribution
	LockURL     string `env:"LOCK_URL" env-default:"local://"`
	QueueURL    string `env:"QUEUE_URL"`

	// QueueVisibilityTimeout hides received messages; the worker extends it while a message is in flight
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" env-default:"5m"`

	JWTSecret    string `env:"JWT_SECRET"`
	EventsSecret string `env:"EVENTS_SECRET"` // shared secret required on POST /events when set

	AWS   AWSConfig
	Media MediaConfig
	Sync  SyncConfig

	BatchConcurrency int `env:"BATCH_CONCURRENCY" env-default:"8"`
}

// AWSConfig holds credentials and endpoint overrides for S3, EC2, SQS and DynamoDB
type AWSConfig struct {
	Region           string `env:"AWS_REGION" env-default:"us-east-1"`
	AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Endpoint       string `env:"AWS_S3_ENDPOINT"`
	S3UsePathStyle   bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"false"`
	PresignDuration  int    `env:"AWS_S3_PRESIGN_SECONDS" env-default:"3600"`
	EC2Endpoint      string `env:"AWS_EC2_ENDPOINT"`
	SQSEndpoint      string `env:"AWS_SQS_ENDPOINT"`
	DynamoDBEndpoint string `env:"AWS_DYNAMODB_ENDPOINT"`
}

// MediaConfig locates ffmpeg and shapes thumbnails
type MediaConfig struct {
	FfmpegPath        string        `env:"FFMPEG_PATH" env-default:"ffmpeg"`
	FfprobePath       string        `env:"FFPROBE_PATH" env-default:"ffprobe"`
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT" env-default:"30s"`
	ThumbnailsEnabled bool          `env:"THUMBNAILS_ENABLED" env-default:"true"`
	ThumbnailOffset   time.Duration `env:"THUMBNAIL_OFFSET" env-default:"1s"`
	ThumbnailWidth    int           `env:"THUMBNAIL_WIDTH" env-default:"320"`
	ThumbnailHeight   int           `env:"THUMBNAIL_HEIGHT" env-default:"180"`
	ThumbnailBaseURL  string        `env:"THUMBNAIL_BASE_URL"`
	ThumbnailTimeout  time.Duration `env:"THUMBNAIL_TIMEOUT" env-default:"30s"`
}

// SyncConfig describes the serving host and how long to wait on it
type SyncConfig struct {
	TagKey          string        `env:"SERVER_TAG_KEY" env-default:"Name"`
	TagValue        string        `env:"SERVER_TAG_VALUE" env-default:"video-server"`
	Namespace       string        `env:"SERVER_NAMESPACE" env-default:"videos"`
	WebRoot         string        `env:"SERVER_WEB_ROOT" env-default:"/var/www/html"`
	ServerService   string        `env:"SERVER_SERVICE" env-default:"nginx"`
	PollInterval    time.Duration `env:"SYNC_POLL_INTERVAL" env-default:"5s"`
	PollMaxInterval time.Duration `env:"SYNC_POLL_MAX_INTERVAL" env-default:"30s"`
	PollMaxAttempts int           `env:"SYNC_POLL_MAX_ATTEMPTS" env-default:"40"`
	ActivateOnSync  bool          `env:"ACTIVATE_ON_SYNC" env-default:"false"`
}

// Load reads the environment (with defaults) and then applies the supplied options.
func Load(opts ...Option) (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithDotEnv loads variables from a .env file and re-reads the environment.
// Variables already set in the process win. A missing file is ignored.
// Place it before programmatic options, which it would otherwise reset.
func WithDotEnv(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			path = ".env"
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithPort overrides the listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithDatabaseURL overrides DATABASE_URL
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithStorageURL overrides STORAGE_URL
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = url
		return nil
	}
}

// WithComputeURL overrides COMPUTE_URL
func WithComputeURL(url string) Option {
	return func(c *ServerConfig) error {
		c.ComputeURL = url
		return nil
	}
}

// WithLockURL overrides LOCK_URL
func WithLockURL(url string) Option {
	return func(c *ServerConfig) error {
		c.LockURL = url
		return nil
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if _, err := parseDatabaseURL(c.DatabaseURL); err != nil {
		return err
	}
	if _, err := parseStorageURLs(c.StorageURL); err != nil {
		return err
	}
	if _, err := parseComputeURL(c.ComputeURL); err != nil {
		return err
	}
	if _, err := parseLockURL(c.LockURL); err != nil {
		return err
	}
	if c.Media.ThumbnailsEnabled && (c.Media.ThumbnailWidth <= 0 || c.Media.ThumbnailHeight <= 0) {
		return fmt.Errorf("thumbnail size %dx%d is invalid", c.Media.ThumbnailWidth, c.Media.ThumbnailHeight)
	}
	if c.Sync.PollMaxAttempts <= 0 {
		return errors.New("sync poll attempts must be positive")
	}
	if c.QueueVisibilityTimeout < 10*time.Second || c.QueueVisibilityTimeout > 12*time.Hour {
		return fmt.Errorf("queue visibility timeout %s must be between 10s and 12h", c.QueueVisibilityTimeout)
	}
	return nil
}

// IsProduction reports whether the process runs in production
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// NewLogger returns a JSON logger in production and a text logger otherwise
func (c *ServerConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
