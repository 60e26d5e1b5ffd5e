package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all worker-process configuration
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Site settings consumed by the template renderer
	Site SiteConfig

	// SMTP settings for the email transport
	SMTP SMTPConfig

	// Object storage (S3-compatible) settings
	Storage StorageConfig

	// Worker pool settings
	Workers WorkersConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"trellis"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"trellis"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// SiteConfig holds settings exposed to notification templates
type SiteConfig struct {
	// BaseURL is the public URL of the application, exposed as template metadata
	BaseURL string `env:"SITE_BASE_URL" envDefault:"http://localhost:3000"`
	// DisplayTimezone is the IANA zone all timestamps are rendered in
	DisplayTimezone string `env:"DISPLAY_TIMEZONE" envDefault:"America/New_York"`
}

// Location resolves the configured display timezone
func (s *SiteConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid display timezone %q: %w", s.DisplayTimezone, err)
	}
	return loc, nil
}

// SMTPConfig holds email transport settings
type SMTPConfig struct {
	// Enabled determines if email sending is enabled
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"false"`
	// Host is the SMTP server hostname
	Host string `env:"SMTP_HOST" envDefault:""`
	// Port is the SMTP server port
	Port int `env:"SMTP_PORT" envDefault:"587"`
	// Username for SMTP authentication (empty disables auth)
	Username string `env:"SMTP_USERNAME" envDefault:""`
	// Password for SMTP authentication
	Password string `env:"SMTP_PASSWORD" envDefault:""`
	// FromAddress is the default from email address
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
	// FromName is the default from name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"Trellis"`
}

// IsConfigured returns true if an SMTP host is configured
func (s *SMTPConfig) IsConfigured() bool {
	return s.Host != ""
}

// StorageConfig holds object storage (MinIO/S3) settings
type StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (empty uses AWS)
	Endpoint string `env:"STORAGE_ENDPOINT" envDefault:""`
	// Region is the bucket region
	Region string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	// AccessKey is the access key ID
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	// SecretKey is the secret access key
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	// Bucket is the bucket holding originals and derivatives
	Bucket string `env:"STORAGE_BUCKET" envDefault:"trellis"`
	// PresignExpiry is how long generated upload URLs stay valid
	PresignExpiry time.Duration `env:"STORAGE_PRESIGN_EXPIRY" envDefault:"15m"`
}

// IsConfigured returns true if storage credentials are present
func (s *StorageConfig) IsConfigured() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}

// WorkersConfig sizes the per-queue executor pools. I/O-bound queues
// (notifications, storage) get many slots; the CPU-bound thumbnail queue
// should stay near the core count.
type WorkersConfig struct {
	NotificationConcurrency int           `env:"QUEUE_NOTIFICATIONS_CONCURRENCY" envDefault:"8"`
	StorageConcurrency      int           `env:"QUEUE_STORAGE_CONCURRENCY" envDefault:"16"`
	ThumbnailConcurrency    int           `env:"QUEUE_THUMBNAILS_CONCURRENCY" envDefault:"2"`
	PollInterval            time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"2s"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if _, err := cfg.Site.Location(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("db_host", cfg.Database.Host),
		slog.String("display_timezone", cfg.Site.DisplayTimezone),
		slog.String("storage_bucket", cfg.Storage.Bucket),
	)

	return cfg, nil
}
