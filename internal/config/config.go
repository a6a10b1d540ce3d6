package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration shared by the control
// plane server and the tour processor.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"tour-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"TOUR_API_PORT" envDefault:"8290"`
	LogLevel        string        `env:"TOUR_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database
	DatabaseDSN    string        `env:"DB_POSTGRESQL_DSN,notEmpty"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// S3 Storage Configuration
	S3Endpoint       string        `env:"TOUR_S3_ENDPOINT"`
	S3PublicEndpoint string        `env:"TOUR_S3_PUBLIC_ENDPOINT"`
	S3Region         string        `env:"TOUR_S3_REGION" envDefault:"us-east-1"`
	S3Bucket         string        `env:"TOUR_S3_BUCKET,notEmpty"`
	S3AccessKeyID    string        `env:"TOUR_S3_ACCESS_KEY_ID"`
	S3SecretKey      string        `env:"TOUR_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle   bool          `env:"TOUR_S3_USE_PATH_STYLE" envDefault:"true"`
	GrantTTL         time.Duration `env:"TOUR_UPLOAD_GRANT_TTL" envDefault:"1h"`

	// Storage layout
	UploadPrefix    string `env:"TOUR_UPLOAD_PREFIX" envDefault:"uploads/"`
	ToursPrefix     string `env:"TOUR_PUBLISH_PREFIX" envDefault:"tours/"`
	ProcessedPrefix string `env:"TOUR_PROCESSED_PREFIX" envDefault:"processed/"`
	FailedPrefix    string `env:"TOUR_FAILED_PREFIX" envDefault:"failed/"`
	ArchivePrefix   string `env:"TOUR_ARCHIVE_PREFIX" envDefault:"archive/"`

	// Upload constraints
	MaxArchiveBytes int64 `env:"TOUR_MAX_ARCHIVE_BYTES" envDefault:"1073741824"`

	// Webhook contract between the processor and the control plane.
	// Verification is on unless explicitly disabled; disabling trades
	// integrity for availability and is logged at startup.
	WebhookURL            string `env:"TOUR_WEBHOOK_URL"`
	WebhookSecret         string `env:"TOUR_WEBHOOK_SECRET"`
	WebhookVerifyDisabled bool   `env:"TOUR_WEBHOOK_VERIFY_DISABLED" envDefault:"false"`

	// Background sweeps
	ProcessingTimeout time.Duration `env:"TOUR_PROCESSING_TIMEOUT" envDefault:"14m"`
	SessionRetention  time.Duration `env:"TOUR_SESSION_RETENTION" envDefault:"168h"`
	ArchiveRetention  time.Duration `env:"TOUR_ARCHIVE_RETENTION" envDefault:"2160h"`
	SweepSchedule     string        `env:"TOUR_SWEEP_SCHEDULE" envDefault:"@every 1m"`
	WatchSchedule     string        `env:"TOUR_INBOX_WATCH_SCHEDULE" envDefault:"@every 30s"`

	// CDN invalidation (optional)
	CloudFrontDistributionID string `env:"TOUR_CDN_DISTRIBUTION_ID"`

	// Authorized-caller capability check for the management API. Empty
	// disables the check (development only).
	ServiceKey string `env:"TOUR_SERVICE_KEY"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3PublicEndpoint = strings.TrimSpace(cfg.S3PublicEndpoint)
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)

	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = 1 << 30
	}
	for _, p := range []*string{&cfg.UploadPrefix, &cfg.ToursPrefix, &cfg.ProcessedPrefix, &cfg.FailedPrefix, &cfg.ArchivePrefix} {
		if !strings.HasSuffix(*p, "/") {
			*p += "/"
		}
	}
	if !cfg.WebhookVerifyDisabled && cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("TOUR_WEBHOOK_SECRET is required unless TOUR_WEBHOOK_VERIFY_DISABLED is true")
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) != "production"
}
